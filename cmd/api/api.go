package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/config"
	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/KAsare1/teleconsult-server/service/analysis"
	"github.com/KAsare1/teleconsult-server/service/appointment"
	"github.com/KAsare1/teleconsult-server/service/availability"
	"github.com/KAsare1/teleconsult-server/service/call"
	"github.com/KAsare1/teleconsult-server/service/chats"
	"github.com/KAsare1/teleconsult-server/service/dashboard"
	"github.com/KAsare1/teleconsult-server/service/jobs"
	"github.com/KAsare1/teleconsult-server/service/metrics"
	notification "github.com/KAsare1/teleconsult-server/service/notifications"
	"github.com/KAsare1/teleconsult-server/service/subscription"
	"github.com/KAsare1/teleconsult-server/service/user"
	"github.com/KAsare1/teleconsult-server/service/ws"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type APIServer struct {
	cfg *config.Config
	db  *gorm.DB
	log *logrus.Logger
}

// NewApiServer builds a server. db may be nil when STORAGE_DRIVER=memory.
func NewApiServer(cfg *config.Config, db *gorm.DB, log *logrus.Logger) *APIServer {
	return &APIServer{cfg: cfg, db: db, log: log}
}

type stores struct {
	users         user.Store
	availability  availability.Store
	appointments  appointment.Store
	calls         call.Store
	subscriptions subscription.Store
	notifications notification.Store
}

func (s *APIServer) stores() stores {
	if s.db == nil {
		return stores{
			users:         user.NewMemoryStore(),
			availability:  availability.NewMemoryStore(),
			appointments:  appointment.NewMemoryStore(),
			calls:         call.NewMemoryStore(),
			subscriptions: subscription.NewMemoryStore(),
			notifications: notification.NewMemoryStore(),
		}
	}
	return stores{
		users:         user.NewGormStore(s.db),
		availability:  availability.NewGormStore(s.db),
		appointments:  appointment.NewGormStore(s.db),
		calls:         call.NewGormStore(s.db),
		subscriptions: subscription.NewGormStore(s.db),
		notifications: notification.NewGormStore(s.db),
	}
}

func (s *APIServer) rtcProvider(m *metrics.Metrics) call.Provider {
	var base call.Provider = call.NewJWTProvider(s.cfg.RTCAppID, s.cfg.RTCAppCertificate, s.cfg.RTCTokenTTL)
	if s.cfg.RTCTokenURL != "" {
		base = call.NewHTTPProvider(s.cfg.RTCAppID, s.cfg.RTCTokenURL, &http.Client{Timeout: s.cfg.RTCTimeout})
		s.log.WithField("endpoint", s.cfg.RTCTokenURL).Info("Using remote RTC token service")
	}
	return call.NewResilientProvider(base, s.cfg.RTCTimeout, m, s.log)
}

func (s *APIServer) chatRooms() chats.Rooms {
	if s.cfg.StreamAPIKey == "" || s.cfg.StreamAPISecret == "" {
		s.log.Warn("Stream credentials not set, chat rooms disabled")
		return chats.DisabledRooms{}
	}
	rooms, err := chats.NewStreamRooms(s.cfg.StreamAPIKey, s.cfg.StreamAPISecret)
	if err != nil {
		s.log.WithError(err).Warn("Stream client unavailable, chat rooms disabled")
		return chats.DisabledRooms{}
	}
	return rooms
}

func (s *APIServer) mailer() notification.Mailer {
	if s.cfg.SMTPHost == "" {
		s.log.Warn("SMTP_HOST not set, email delivery disabled")
		return notification.DisabledMailer{}
	}
	return notification.NewSMTPMailer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPFrom)
}

func (s *APIServer) classifier() analysis.Classifier {
	if s.cfg.ClassifierURL == "" {
		return analysis.DisabledClassifier{}
	}
	return analysis.NewHTTPClassifier(s.cfg.ClassifierURL, 30*time.Second)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	st := s.stores()
	m := metrics.New(prometheus.NewRegistry())
	auth := utils.NewAuthenticator(s.cfg.SecretKey)
	loc := s.cfg.Location()

	resolver := availability.NewResolver(st.availability, st.appointments, s.cfg.SlotTodayBuffer)
	guard := subscription.NewGuard(st.subscriptions, s.cfg.FreeTierWeeklyLimit)
	guard.SetObserver(m)
	rooms := s.chatRooms()
	notifier := notification.NewNotifier(st.notifications, st.users, notification.NewExpoPusher(nil), s.mailer(), s.log)

	scheduler := appointment.NewScheduler(st.appointments, resolver, guard, rooms, notifier, m, s.log, appointment.Config{
		Location: loc,
		MinLead:  s.cfg.BookingMinLead,
	})

	hub := ws.NewHub(m, s.log)
	if s.cfg.RedisURL != "" {
		relay, err := ws.NewRedisRelay(s.cfg.RedisURL, s.log)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = relay.Ping(pingCtx)
		cancel()
		if err != nil {
			s.log.WithError(err).Warn("Redis unreachable, signaling stays node-local")
			relay.Close()
		} else {
			hub.SetRelay(relay)
			go relay.Run(ctx, hub)
			defer relay.Close()
		}
	}

	manager := call.NewManager(st.calls, scheduler, guard, s.rtcProvider(m), hub, m, s.log)

	if s.cfg.JobsEnabled {
		runner := jobs.NewRunner(st.subscriptions, st.appointments, st.calls, m, s.log, jobs.Config{
			StaleCallWindow: s.cfg.StaleCallWindow,
		})
		if err := runner.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			runner.Stop(stopCtx)
		}()
	}

	router := mux.NewRouter()
	router.Use(utils.RequestLogger(s.log))
	router.Use(m.Middleware)
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	user.NewHandler(st.users, auth, s.log).RegisterRoutes(subrouter)
	availability.NewAvailabilityHandler(st.availability, resolver, auth, loc, s.log).RegisterRoutes(subrouter)
	appointment.NewAppointmentHandler(scheduler, auth, s.log).RegisterRoutes(subrouter)
	call.NewCallHandler(manager, auth, s.log).RegisterRoutes(subrouter)
	subscription.NewSubscriptionHandler(st.subscriptions, guard, auth, s.log).RegisterRoutes(subrouter)
	notification.NewNotificationHandler(st.notifications, auth, s.log).RegisterRoutes(subrouter)
	chats.NewChatHandler(rooms, auth, s.log).RegisterRoutes(subrouter)
	analysis.NewAnalysisHandler(s.classifier(), guard, m, auth, s.log).RegisterRoutes(subrouter)
	dashboard.NewDashboardHandler(st.users, st.appointments, st.calls, hub, auth, s.log).RegisterRoutes(subrouter)

	ws.NewHandler(hub, auth, s.log).RegisterRoutes(router)

	router.Handle("/metrics", m.Handler()).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"signaling_users": hub.ClientCount(),
		})
	}).Methods("GET")

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(s.log), handlers.PrintRecoveryStack(!s.cfg.IsProduction()))

	server := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           recovery(cors(router)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("address", server.Addr).Info("Server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
