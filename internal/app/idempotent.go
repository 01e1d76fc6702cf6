package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/idempotency"
)

const maxIdempotencyKey = 200

// recorder keeps a copy of the response body so it can be replayed.
type recorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// idempotent replays the stored response of a create request sent again with
// the same Idempotency-Key. Failed attempts (5xx) release the key.
func (s *HTTPServer) idempotent(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		clientKey := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		if s.idem == nil || clientKey == "" {
			return next(c)
		}
		if len(clientKey) > maxIdempotencyKey {
			return validationError("Idempotency-Key is too long", map[string]any{"max": maxIdempotencyKey})
		}

		req := c.Request()
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Could not read request body")
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(append([]byte(req.Method+" "+req.URL.Path+"\n"), body...))
		fingerprint := hex.EncodeToString(sum[:])

		ctx := context.WithoutCancel(req.Context())
		key := idempotency.Key(caller(c), req.Method+" "+req.URL.Path, clientKey)
		stored, err := s.idem.Reserve(ctx, key)
		if err != nil {
			return translate(err)
		}
		if stored != nil {
			if stored.Fingerprint != fingerprint {
				return validationError("Idempotency-Key was already used for a different request", nil)
			}
			res := c.Response()
			if stored.ETag != "" {
				res.Header().Set(headerETag, stored.ETag)
			}
			res.Header().Set(headerIdempotentReplay, "true")
			return c.Blob(stored.Status, stored.ContentType, stored.Body)
		}

		res := c.Response()
		rec := &recorder{ResponseWriter: res.Writer}
		res.Writer = rec
		if err := next(c); err != nil {
			c.Error(err)
		}
		res.Writer = rec.ResponseWriter

		if res.Status >= http.StatusInternalServerError {
			if err := s.idem.Release(ctx, key); err != nil {
				log.WithError(err).Warn("release idempotency key")
			}
			return nil
		}
		err = s.idem.Complete(ctx, key, idempotency.Response{
			Status:      res.Status,
			ContentType: res.Header().Get(echo.HeaderContentType),
			ETag:        res.Header().Get(headerETag),
			Body:        rec.body.Bytes(),
			Fingerprint: fingerprint,
		})
		if err != nil {
			log.WithError(err).Warn("store idempotent response")
		}
		return nil
	}
}
