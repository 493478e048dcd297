// The bancho package implements the game client's HTTP endpoint. Clients
// speak a binary packet protocol tunneled over plain HTTP POST requests: the
// first request carries the login form and receives a session token in the
// cho-token response header, every later request replays that token in the
// osu-token header and carries zero or more client packets in its body. The
// response body is whatever has accumulated in the session's outbound queue.
package bancho

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dzifors/nova/internal/core"
	"github.com/dzifors/nova/internal/core/data"
	"github.com/dzifors/nova/internal/protocol"
	"github.com/dzifors/nova/internal/session"
)

// Server owns the live session state and serves the bancho endpoint.
type Server struct {
	config   *core.Config
	logger   *zap.SugaredLogger
	db       *gorm.DB
	registry *session.Registry
	// Optional presence mirror. A nil presence store disables mirroring.
	presence *session.PresenceStore

	channels []*session.Channel
	bot      *session.Player
	handlers map[protocol.ClientPacketID]packetHandler

	// Successful bcrypt comparisons are memoized per (hash, password) pair
	// since the client re-sends the same credentials on every reconnect.
	credentialCache *gocache.Cache
}

// NewServer seeds the chat channels and bot session and returns a server
// ready to have its router mounted.
func NewServer(config *core.Config, logger *zap.SugaredLogger, db *gorm.DB, presence *session.PresenceStore) (*Server, error) {
	s := &Server{
		config:          config,
		logger:          logger,
		db:              db,
		registry:        session.NewRegistry(logger),
		presence:        presence,
		credentialCache: gocache.New(time.Hour, 10*time.Minute),
	}

	if err := s.loadChannels(); err != nil {
		return nil, err
	}
	if err := s.startBot(); err != nil {
		return nil, err
	}
	s.registerHandlers()

	return s, nil
}

// Registry exposes the live session registry, mainly for sibling services.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

func (s *Server) loadChannels() error {
	if err := data.SeedDefaultChannels(s.db); err != nil {
		return fmt.Errorf("seeding default channels: %w", err)
	}
	specs, err := data.FindChannelSpecs(s.db)
	if err != nil {
		return fmt.Errorf("loading channels: %w", err)
	}
	for _, spec := range specs {
		s.channels = append(s.channels, session.NewChannel(spec))
	}
	s.logger.Infof("loaded %d chat channels", len(s.channels))
	return nil
}

// ChannelByName finds a permanent channel by its internal name, or nil.
func (s *Server) ChannelByName(name string) *session.Channel {
	for _, c := range s.channels {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var botActionInfos = []string{
	"over the server",
	"the lobby",
	"for rule breakers",
	"everything",
}

// startBot brings the server's bot account online. The bot session never
// expires and its queue discards writes, but its presence is visible so
// players can message it.
func (s *Server) startBot() error {
	account, err := data.FindAccountByID(s.db, uint64(s.config.Bot.ID))
	if err != nil {
		return err
	}
	if account == nil {
		account = &data.Account{
			ID:           uint64(s.config.Bot.ID),
			Name:         s.config.Bot.Name,
			Privileges:   int(session.PrivilegeUnrestricted),
			CreationTime: time.Now(),
		}
		if err := data.CreateAccount(s.db, account); err != nil {
			return fmt.Errorf("creating bot account: %w", err)
		}
	}

	s.bot = session.NewPlayer(account, session.PlayerOptions{
		Domain:    s.config.Domain,
		BotClient: true,
		// The bot broadcasts from a fixed spot in the Atlantic.
		Geolocation: session.Geolocation{Latitude: 27.0, Longitude: -42.0},
	})
	s.bot.SetStatus(session.Status{
		Action:     session.ActionWatching,
		ActionInfo: botActionInfos[rand.Intn(len(botActionInfos))],
	})
	s.registry.Add(s.bot)

	s.logger.Infof("bot session %s is online", s.bot)
	return nil
}

// Router builds the HTTP routing table for the bancho endpoint.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/", s.handleBancho).Methods(http.MethodPost)
	return router
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "nova bancho endpoint: %d sessions online\n", s.registry.Len())
}

func (s *Server) handleBancho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	token := r.Header.Get("osu-token")
	if token == "" {
		resp := s.handleLogin(body, clientIP(r))
		w.Header().Set("cho-token", resp.token)
		_, _ = w.Write(resp.body)
		return
	}

	p := s.registry.GetByToken(token)
	if p == nil {
		// The session expired or the server restarted. Tell the client to
		// log in again.
		_, _ = w.Write(append(
			protocol.Notification("Server has restarted."),
			protocol.RestartServer(0)...,
		))
		return
	}

	s.handlePackets(p, body)
	p.TouchActivity()
	_, _ = w.Write(p.Dequeue())
}

// handlePackets runs every well-formed packet in the request body through
// its handler. Unknown packet ids are skipped by the stream, handler errors
// abort the rest of the body since a misparsed payload leaves the stream in
// an undefined position.
func (s *Server) handlePackets(p *session.Player, body []byte) {
	stream := protocol.NewPacketStream(body, func(id protocol.ClientPacketID) bool {
		_, ok := s.handlers[id]
		return ok
	})

	for {
		packet, err := stream.Next()
		if err != nil {
			s.logger.Warnf("malformed packet stream from %s: %v", p, err)
			return
		}
		if packet == nil {
			return
		}

		handler := s.handlers[packet.ID]
		if p.IsRestricted() && !handler.allowRestricted {
			continue
		}
		if err := handler.handle(s, p, packet.Payload); err != nil {
			s.logger.Warnf("handling packet %d from %s: %v", packet.ID, p, err)
			return
		}
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Real-IP"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Shutdown logs out every live session so logout side effects run and the
// presence mirror is left clean.
func (s *Server) Shutdown(ctx context.Context) {
	for _, p := range s.registry.Snapshot() {
		if p.BotClient {
			s.registry.Remove(p)
			continue
		}
		s.setOffline(ctx, p)
		p.Logout(s.registry, s.logger)
	}
}

func (s *Server) setOnline(ctx context.Context, p *session.Player) {
	if s.presence != nil {
		s.presence.SetOnline(ctx, p)
		p.RefreshRanks(ctx, s.presence)
	}
}

func (s *Server) setOffline(ctx context.Context, p *session.Player) {
	if s.presence != nil {
		s.presence.SetOffline(ctx, p)
	}
}
