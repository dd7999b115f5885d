package middleware

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"donation-gateway/internal/core/ports"
	"donation-gateway/pkg/apperror"
	"donation-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names for client authentication
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderRequestID = "X-Request-Id"

	// Max timestamp drift allowed (60 seconds)
	maxTimestampDrift = 60 * time.Second

	// Nonce TTL (120 seconds)
	nonceTTL = 120 * time.Second

	// Context keys
	CtxClientID  = "client_id"
	CtxAuthMode  = "auth_mode"
	CtxOperator  = "operator"
	CtxRequestID = "request_id"
)

// ClientAuthConfig lists the credentials accepted on the donation API.
type ClientAuthConfig struct {
	APIKeys      []string
	ClientID     string
	ClientSecret string
}

// ClientAuth accepts either a configured X-Api-Key or an HMAC-signed request.
// HMAC pipeline: check timestamp -> check nonce -> verify signature.
func ClientAuth(cfg ClientAuthConfig, sigSvc ports.SignatureService, nonceStore ports.NonceStore, log zerolog.Logger) gin.HandlerFunc {
	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(c *gin.Context) {
		if apiKey := c.GetHeader(HeaderAPIKey); apiKey != "" {
			if !matchesAny(keys, []byte(apiKey)) {
				log.Warn().Str("client_ip", c.ClientIP()).Msg("invalid api key")
				response.Abort(c, apperror.ErrInvalidAPIKey())
				return
			}
			c.Set(CtxClientID, "api_key")
			c.Set(CtxAuthMode, "api_key")
			c.Next()
			return
		}

		signature := c.GetHeader(HeaderSignature)
		timestampStr := c.GetHeader(HeaderTimestamp)
		nonce := c.GetHeader(HeaderNonce)
		if cfg.ClientSecret == "" || signature == "" || timestampStr == "" || nonce == "" {
			response.Abort(c, apperror.ErrInvalidAPIKey())
			return
		}

		// Step 1: Timestamp check
		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			response.Abort(c, apperror.ErrTimestampExpired())
			return
		}
		now := time.Now().Unix()
		if math.Abs(float64(now-timestamp)) > maxTimestampDrift.Seconds() {
			log.Warn().Int64("timestamp", timestamp).Msg("signed request outside allowed drift")
			response.Abort(c, apperror.ErrTimestampExpired())
			return
		}

		// Step 2: Nonce check
		isNew, err := nonceStore.CheckAndSet(c.Request.Context(), cfg.ClientID, nonce, nonceTTL)
		if err != nil {
			log.Warn().Err(err).Msg("nonce store error, allowing request")
		} else if !isNew {
			log.Warn().Str("client_id", cfg.ClientID).Msg("nonce replayed")
			response.Abort(c, apperror.ErrNonceUsed())
			return
		}

		// Step 3: Signature verification
		bodyBytes, err := ReadBody(c)
		if err != nil {
			response.Abort(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		canonical := sigSvc.BuildCanonicalString(
			c.Request.Method,
			c.Request.URL.Path,
			timestamp,
			nonce,
			string(bodyBytes),
		)
		if !sigSvc.Verify(cfg.ClientSecret, canonical, signature) {
			log.Warn().Str("client_id", cfg.ClientID).Msg("client signature mismatch")
			response.Abort(c, apperror.ErrInvalidSignature())
			return
		}

		c.Set(CtxClientID, cfg.ClientID)
		c.Set(CtxAuthMode, "hmac")
		c.Next()
	}
}

func matchesAny(keys [][]byte, candidate []byte) bool {
	found := 0
	for _, k := range keys {
		found |= subtle.ConstantTimeCompare(k, candidate)
	}
	return found == 1
}

// JWTAuth validates operator tokens for admin routes.
func JWTAuth(tokenSvc ports.TokenService, role string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenStr == "" {
			response.Abort(c, apperror.ErrInvalidToken())
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil || claims.Role != role {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("rejected operator token")
			response.Abort(c, apperror.ErrInvalidToken())
			return
		}

		c.Set(CtxOperator, claims.Subject)
		c.Next()
	}
}

// RequestID propagates X-Request-Id or assigns a fresh one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.New().String()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		if len(c.Errors) > 0 {
			event = event.Str("error", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString(CtxRequestID)).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString(CtxRequestID)).Msg("panic recovered")
				response.Abort(c, apperror.InternalError(fmt.Errorf("panic: %v", r)))
			}
		}()
		c.Next()
	}
}
