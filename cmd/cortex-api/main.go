package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/audit"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/auth"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/collab"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/config"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/conflict"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/database"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/logging"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/notify"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/presence"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/project"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/server"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/share"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortex-api",
		Short: "Cortex project collaboration and sharing service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("share-base-url", defaults.GetString("share.base_url"), "Base URL prefixed to share link tokens")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().String("platform-secret", "", "Platform secret accepted by the token issuing route")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "share.base_url", "share-base-url")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.platform_secret", "platform-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger,
		&users.Identity{},
		&project.Project{},
		&collab.Collaborator{},
		&share.Link{},
		&presence.Session{},
		&audit.AccessEvent{},
	)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})

	auditRecorder, err := audit.NewRecorder(audit.RecorderConfig{
		Database:   db,
		IDProvider: audit.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	projectService, err := project.NewService(project.ServiceConfig{
		Database:   db,
		IDProvider: project.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.Nop{}
	smtpNotifier := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     appConfig.SMTPHost,
		Port:     appConfig.SMTPPort,
		Username: appConfig.SMTPUsername,
		Password: appConfig.SMTPPassword,
		From:     appConfig.SMTPFrom,
		FromName: appConfig.SMTPFromName,
	})
	if smtpNotifier.Configured() {
		notifier = smtpNotifier
	} else {
		logger.Info("smtp not configured, invitation emails disabled")
	}

	collabService, err := collab.NewService(collab.ServiceConfig{
		Database:   db,
		IDProvider: collab.NewUUIDProvider(),
		Projects:   projectService,
		Identities: usersService,
		Events:     auditRecorder,
		Notifier:   notifier,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	shareService, err := share.NewService(share.ServiceConfig{
		Database:    db,
		IDProvider:  share.NewUUIDProvider(),
		TokenSource: share.NewRandomTokenSource(),
		Roster:      collabService,
		Events:      auditRecorder,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	presenceTracker, err := presence.NewTracker(presence.TrackerConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	conflictDetector, err := conflict.NewDetector(conflict.DetectorConfig{
		Presence: presenceTracker,
		Names:    usersService,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Users:         usersService,
		Projects:      projectService,
		Collaborators: collabService,
		Links:         shareService,
		Presence:      presenceTracker,
		Conflicts:     conflictDetector,
		Audit:          auditRecorder,
		ShareBaseURL:   appConfig.ShareBaseURL,
		PlatformSecret: appConfig.PlatformSecret,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go presenceTracker.RunReaper(signalCtx, appConfig.ReaperInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
