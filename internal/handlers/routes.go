package handlers

import (
	"bufio"
	"errors"
	"net"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chat-core/handlers"

type Routes struct {
	Auth          *AuthHandlers
	Conversations *ConversationHandlers
	Presence      *PresenceHandlers
	WebSocket     *WebSocketHandlers

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

func (rt Routes) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	provider := rt.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(tracerName)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, traced(tracer, pattern, h))
	}

	// Auth routes
	handle("POST /login", rt.Auth.Login)

	// Conversation routes
	handle("GET /conversations", rt.Conversations.ListConversations)
	handle("POST /conversations/direct", rt.Conversations.OpenDirect)
	handle("GET /conversations/{id}/messages", rt.Conversations.ListMessages)
	handle("POST /conversations/{id}/messages", rt.Conversations.CreateMessage)
	handle("POST /conversations/{id}/read", rt.Conversations.MarkRead)
	handle("GET /users/resolve", rt.Conversations.ResolveUser)

	handle("GET /presence/{userId}", rt.Presence.GetPresence)

	// WebSocket route
	handle("GET /ws", rt.WebSocket.HandleWebSocket)
	return mux
}

// traced runs next inside a server span named after the route pattern,
// continuing any trace context carried in the request headers.
func traced(tracer trace.Tracer, route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets the websocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, traceparent")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
