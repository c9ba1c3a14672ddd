package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/vortex/social-chat/internal/ai"
	"github.com/vortex/social-chat/internal/auth"
	"github.com/vortex/social-chat/internal/content"
	"github.com/vortex/social-chat/internal/membership"
	"github.com/vortex/social-chat/internal/metrics"
	"github.com/vortex/social-chat/internal/notify"
	"github.com/vortex/social-chat/internal/profile"
	"github.com/vortex/social-chat/internal/protocol"
	"github.com/vortex/social-chat/internal/ratelimit"
	"github.com/vortex/social-chat/internal/realtime"
	"github.com/vortex/social-chat/internal/room"
	"github.com/vortex/social-chat/internal/store"
	"github.com/vortex/social-chat/internal/ws"
)

// sessionRegistry tracks the room sessions opened by each UI connection so
// that a disconnect tears down exactly what that connection opened.
type sessionRegistry struct {
	mu   sync.Mutex
	open map[string]map[string]*room.Session // conn_id -> room_id -> session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{open: make(map[string]map[string]*room.Session)}
}

// put stores a session, closing and replacing any session the connection
// already had open for that room. Reopening is a fresh cycle, never a
// resumption.
func (r *sessionRegistry) put(connID, roomID string, s *room.Session) {
	r.mu.Lock()
	rooms, ok := r.open[connID]
	if !ok {
		rooms = make(map[string]*room.Session)
		r.open[connID] = rooms
	}
	prev := rooms[roomID]
	rooms[roomID] = s
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

func (r *sessionRegistry) get(connID, roomID string) *room.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[connID][roomID]
}

// remove detaches one session without closing it; the caller closes.
func (r *sessionRegistry) remove(connID, roomID string) *room.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.open[connID][roomID]
	delete(r.open[connID], roomID)
	if len(r.open[connID]) == 0 {
		delete(r.open, connID)
	}
	return s
}

// drop detaches every session for a connection; the caller closes them.
func (r *sessionRegistry) drop(connID string) []*room.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := r.open[connID]
	delete(r.open, connID)
	out := make([]*room.Session, 0, len(rooms))
	for _, s := range rooms {
		out = append(out, s)
	}
	return out
}

// uiNotifier fans local notifications out to every attached UI surface.
type uiNotifier struct {
	server *ws.Server
}

func (n *uiNotifier) Notify(notif notify.Notification) {
	data, err := protocol.NewServerMessage(protocol.TypeNotification, protocol.NotificationMsg{
		Kind:      string(notif.Kind),
		Title:     notif.Title,
		Body:      notif.Body,
		RoomID:    notif.RoomID,
		MessageID: notif.MessageID,
		DigestID:  notif.DigestID,
	})
	if err != nil {
		log.Printf("[notify] failed to build notification message: %v", err)
		return
	}
	n.server.Connections().Broadcast(data)
}

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	busConfig := realtime.DefaultConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		busConfig.URL = natsURL
	}
	bus, err := realtime.Connect(busConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Postgres ---
	storeConfig := store.DefaultConfig()
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		storeConfig.DSN = dsn
	}
	st, err := store.Open(storeConfig, bus)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	// --- Auth ---
	// The daemon runs on behalf of one signed-in user. Without a token it
	// starts as a guest: rooms cannot be opened and no notifications fire.
	sess := auth.GuestSession()
	if token := os.Getenv("ACCESS_TOKEN"); token != "" {
		secret := []byte(os.Getenv("JWT_SECRET"))
		s, err := auth.FromToken(token, secret)
		if err != nil {
			log.Fatalf("failed to parse access token: %v", err)
		}
		sess = s
	}
	authMgr := auth.NewManager(sess)

	// --- Collaborators ---
	resolver := profile.NewResolver(rdb, st)
	limiter := ratelimit.NewLimiter(rdb)

	aiConfig := ai.DefaultConfig()
	if v := os.Getenv("AI_URL"); v != "" {
		aiConfig.BaseURL = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		aiConfig.APIKey = v
	}
	if v := os.Getenv("AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			aiConfig.Timeout = d
		}
	}
	aiDispatcher := ai.NewDispatcher(ai.NewClient(aiConfig), st, limiter)

	cache := membership.NewCache(st, authMgr)

	// --- Avatar storage (optional) ---
	var uploader *profile.AvatarUploader
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		awsSess, err := awssession.NewSession(&aws.Config{
			Region: aws.String(envOr("S3_REGION", "us-east-1")),
		})
		if err != nil {
			log.Fatalf("failed to create aws session: %v", err)
		}
		uploader = profile.NewAvatarUploader(s3.New(awsSess), st, bucket, os.Getenv("S3_BASE_URL"))
	}

	log.Printf("vortex chat daemon starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  nats_url:        %s", busConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  ai_url:          %s", aiConfig.BaseURL)
	log.Printf("  user:            %s (guest=%v)", sess.UserID, sess.Guest)

	// Declare server early so closures can capture it.
	var server *ws.Server

	registry := newSessionRegistry()

	// sendTo marshals a daemon message and writes it to one connection.
	sendTo := func(connID, msgType string, payload interface{}) {
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("[gateway] failed to build %s: %v", msgType, err)
			return
		}
		if err := server.SendMessage(connID, data); err != nil {
			log.Printf("[gateway] failed to send %s to conn=%s: %v", msgType, connID, err)
		}
	}

	sendErr := func(connID, code, message string) {
		sendTo(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// open_room — spin up a live session and push the initial history
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeOpenRoom, func(conn *ws.Connection, msg interface{}) {
		openMsg, ok := msg.(protocol.OpenRoomMsg)
		if !ok || openMsg.RoomID == "" {
			return
		}
		connID := conn.ID
		roomID := openMsg.RoomID

		if !cache.IsMember(roomID) {
			sendErr(connID, "not_member", "not a member of this room")
			return
		}

		deps := room.Deps{
			Store:      st,
			Bus:        bus,
			Auth:       authMgr,
			Resolver:   resolver,
			Dispatcher: aiDispatcher,
		}
		hooks := room.Hooks{
			Message: func(e room.Entry) {
				sendTo(connID, protocol.TypeMessage, protocol.ServerMessageMsg{
					Message: entryView(e),
				})
			},
			Typing: func(users []string) {
				sendTo(connID, protocol.TypeTypingState, protocol.TypingStateMsg{
					RoomID: roomID,
					Users:  users,
				})
			},
			Presence: func(entries []realtime.PresenceEntry) {
				users := make([]string, 0, len(entries))
				for _, e := range entries {
					users = append(users, e.Username)
				}
				sendTo(connID, protocol.TypePresence, protocol.PresenceMsg{
					RoomID: roomID,
					Users:  users,
				})
			},
		}

		s := room.NewSession(roomID, deps, hooks)

		// Open does an authoritative history fetch; keep it off the
		// dispatch worker.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.Open(ctx); err != nil {
				s.Close()
				log.Printf("[gateway] open room=%s failed: %v", roomID, err)
				sendErr(connID, "open_failed", "could not open room")
				return
			}
			// Register first, then check liveness. A disconnect before the
			// registration misses the session in its sweep, so the re-check
			// here closes it; a disconnect after finds it registered. Either
			// way exactly one side tears it down.
			registry.put(connID, roomID, s)
			if server.Connections().Get(connID) == nil {
				if orphan := registry.remove(connID, roomID); orphan != nil {
					orphan.Close()
				}
				return
			}

			entries := s.Messages()
			views := make([]protocol.MessageView, 0, len(entries))
			for _, e := range entries {
				views = append(views, entryView(e))
			}
			sendTo(connID, protocol.TypeRoomState, protocol.RoomStateMsg{
				RoomID:   roomID,
				Messages: views,
			})
		}()
	})

	// -----------------------------------------------------------------------
	// close_room — tear down the live session
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCloseRoom, func(conn *ws.Connection, msg interface{}) {
		closeMsg, ok := msg.(protocol.CloseRoomMsg)
		if !ok {
			return
		}
		if s := registry.remove(conn.ID, closeMsg.RoomID); s != nil {
			s.Close()
		}
	})

	// -----------------------------------------------------------------------
	// send_message — validate, persist, let the AI dispatcher have a look
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		connID := conn.ID

		s := registry.get(connID, sendMsg.RoomID)
		if s == nil {
			sendErr(connID, "room_not_open", "room is not open")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		self := authMgr.Current()
		if allowed, _ := limiter.Allow(ctx, self.UserID, ratelimit.RuleSend); !allowed {
			sendErr(connID, "rate_limited", "sending too fast, slow down")
			return
		}

		if err := s.SendMessage(ctx, sendMsg.Text); err != nil {
			sendErr(connID, sendErrorCode(err), err.Error())
		}
	})

	// -----------------------------------------------------------------------
	// typing — producer-side typing indicator
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		if s := registry.get(conn.ID, typingMsg.RoomID); s != nil {
			s.SetTyping(typingMsg.IsTyping)
		}
	})

	// -----------------------------------------------------------------------
	// create_room — create a room owned by the current user
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCreateRoom, func(conn *ws.Connection, msg interface{}) {
		createMsg, ok := msg.(protocol.CreateRoomMsg)
		if !ok {
			return
		}
		connID := conn.ID

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		created, err := cache.CreateRoom(ctx, createMsg.Name, createMsg.IsGroup)
		if err != nil {
			sendErr(connID, "create_failed", err.Error())
			return
		}
		sendTo(connID, protocol.TypeRoomCreated, protocol.RoomCreatedMsg{
			Room: protocol.RoomView{
				ID:          created.ID,
				Name:        created.Name,
				IsGroup:     created.IsGroup,
				InviteToken: created.InviteToken,
				Role:        store.RoleAdmin,
			},
		})
	})

	// -----------------------------------------------------------------------
	// join_room — redeem an invite token
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			return
		}
		connID := conn.ID

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		name, err := cache.JoinByToken(ctx, joinMsg.Token)
		if err != nil {
			sendErr(connID, joinErrorCode(err), err.Error())
			return
		}
		sendTo(connID, protocol.TypeRoomJoined, protocol.RoomJoinedMsg{RoomName: name})
	})

	// -----------------------------------------------------------------------
	// list_rooms — serve the cached membership snapshot
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeListRooms, func(conn *ws.Connection, msg interface{}) {
		rooms := cache.Rooms()
		views := make([]protocol.RoomView, 0, len(rooms))
		for _, r := range rooms {
			role, _ := cache.Role(r.ID)
			views = append(views, protocol.RoomView{
				ID:          r.ID,
				Name:        r.Name,
				IsGroup:     r.IsGroup,
				InviteToken: r.InviteToken,
				Role:        role,
			})
		}
		sendTo(conn.ID, protocol.TypeRoomList, protocol.RoomListMsg{Rooms: views})
	})

	// -----------------------------------------------------------------------
	// notification_tap — turn the tapped payload back into navigation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeNotificationTap, func(conn *ws.Connection, msg interface{}) {
		tapMsg, ok := msg.(protocol.NotificationTapMsg)
		if !ok {
			return
		}
		nav := protocol.NavigateMsg{Target: "room", RoomID: tapMsg.RoomID}
		if tapMsg.Kind == string(notify.KindDigest) {
			nav.Target = "digest"
			nav.DigestID = tapMsg.DigestID
		}
		sendTo(conn.ID, protocol.TypeNavigate, nav)
	})

	server = ws.NewServer(config, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// A dropped UI surface closes its room sessions; typing and presence
	// for those rooms clear through the sessions' own close paths.
	server.SetOnDisconnect(func(connID string) {
		for _, s := range registry.drop(connID) {
			s.Close()
		}
	})

	// --- Membership cache + global notification listener ---
	// Warm the cache before the listener starts filtering against it.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := cache.Refresh(warmCtx); err != nil {
		log.Printf("initial membership refresh failed: %v", err)
	}
	warmCancel()

	refreshCtx, refreshCancel := context.WithCancel(context.Background())
	cache.StartRefresher(refreshCtx)

	listener := notify.NewListener(bus, cache, authMgr, resolver, &uiNotifier{server: server})
	if err := listener.Start(); err != nil {
		log.Fatalf("failed to start notification listener: %v", err)
	}

	// --- Admin server: metrics and avatar upload ---
	adminAddr := envOr("ADMIN_ADDR", "127.0.0.1:7421")
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metrics.Handler())
	adminMux.HandleFunc("/profile/avatar", func(w http.ResponseWriter, r *http.Request) {
		handleAvatarUpload(w, r, uploader, authMgr, resolver)
	})
	adminServer := &http.Server{Addr: adminAddr, Handler: adminMux}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		refreshCancel()
		listener.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = adminServer.Shutdown(ctx)

		bus.Close()
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// entryView converts an enriched room entry into its wire representation.
func entryView(e room.Entry) protocol.MessageView {
	view := protocol.MessageView{
		ID:         e.ID,
		RoomID:     e.RoomID,
		AuthorID:   e.UserID,
		AuthorName: e.AuthorName,
		Ts:         e.CreatedAt.Unix(),
	}
	switch e.Content.Kind {
	case content.KindDigest:
		view.Kind = "digest"
		if raw, err := json.Marshal(e.Content.Digest); err == nil {
			view.Digest = raw
		}
	case content.KindBot:
		view.Kind = "bot"
		view.Model = e.Content.Model
		view.Text = e.Content.Text
	default:
		view.Kind = "plain"
		view.Text = e.Content.Text
	}
	return view
}

// sendErrorCode maps a SendMessage failure onto a stable UI error code.
func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, ai.ErrRateLimited):
		return "ai_rate_limited"
	case errors.Is(err, ai.ErrTimeout):
		return "ai_timeout"
	case errors.Is(err, ai.ErrService):
		return "ai_unavailable"
	default:
		return "send_failed"
	}
}

// joinErrorCode maps a JoinByToken failure onto a stable UI error code.
func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, membership.ErrEmptyToken):
		return "empty_token"
	case errors.Is(err, store.ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, store.ErrAlreadyMember):
		return "already_member"
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "not_authenticated"
	default:
		return "join_failed"
	}
}

// handleAvatarUpload accepts a raw image body, stores it, and invalidates
// the cached profile so other clients pick the new URL up.
func handleAvatarUpload(w http.ResponseWriter, r *http.Request, uploader *profile.AvatarUploader,
	authMgr *auth.Manager, resolver *profile.Resolver) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if uploader == nil {
		http.Error(w, "avatar storage not configured", http.StatusServiceUnavailable)
		return
	}
	sess := authMgr.Current()
	if !sess.Authenticated() {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	ext := r.URL.Query().Get("ext")
	if ext == "" {
		ext = "jpg"
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	url, err := uploader.Upload(r.Context(), sess.UserID, ext, bytes.NewReader(body), r.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("[gateway] avatar upload failed: %v", err)
		http.Error(w, "upload failed", http.StatusBadGateway)
		return
	}
	resolver.Invalidate(r.Context(), sess.UserID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		AvatarURL string `json:"avatar_url"`
	}{AvatarURL: url})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
