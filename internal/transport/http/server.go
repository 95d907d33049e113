package http

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	appsvc "credvault/internal/app"
	"credvault/internal/bootstrap"
	"credvault/internal/pkg/jwtutil"
	"credvault/internal/pkg/passhash"
	"credvault/internal/transport/http/handler"
	"credvault/internal/transport/http/middleware"
	"credvault/internal/validation"
)

func NewRouter(app *bootstrap.App) (*gin.Engine, error) {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestLogger(app.Log),
		middleware.Metrics(app.Metrics),
		gin.Recovery(),
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"*"},
		}),
	)

	hasher, err := passhash.New(app.Config.Auth.BcryptCost, app.Config.Auth.HashConcurrency)
	if err != nil {
		return nil, fmt.Errorf("build password hasher failed: %w", err)
	}
	issuer, err := jwtutil.NewIssuer(app.Config.Auth.JWTSecret, app.Config.TokenTTL())
	if err != nil {
		return nil, fmt.Errorf("build token issuer failed: %w", err)
	}

	authService := appsvc.NewAuthService(appsvc.AuthDeps{
		Users:     app.Users,
		Hasher:    hasher,
		Tokens:    issuer,
		Validator: validation.New(),
		Events:    app.Events,
		Metrics:   app.Metrics,
		Log:       app.Log,
	})

	healthHandler := handler.NewHealthHandler(app.StartedAt)
	authHandler := handler.NewAuthHandler(authService)
	stubHandler := handler.NewStubHandler()

	router.GET("/", stubHandler.Root)
	router.GET("/health", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	api := router.Group("/api")
	authGroup := api.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	api.GET("/keys", stubHandler.ListKeys)
	api.POST("/keys", stubHandler.GenerateKey)
	api.GET("/metrics", stubHandler.Metrics)
	api.GET("/logs", stubHandler.Logs)

	if app.Activity != nil {
		activityHandler := handler.NewActivityHandler(app.Activity, app.Log)
		api.GET("/activity", activityHandler.List)
	}

	return router, nil
}
