package xhttp

import (
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/apysky/broadcast-scheduler/pkg/logger"
)

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ReadBufferSize  int
	WriteBufferSize int

	// MaxRequestBodySize bounds uploads; media attachments arrive base64
	// encoded so this is generous by default.
	MaxRequestBodySize int

	Concurrency   int
	MaxConnsPerIP int
}

var DefaultServerOption = ServerOption{
	ReadTimeout:        time.Millisecond * 2500,
	WriteTimeout:       time.Millisecond * 2500,
	IdleTimeout:        time.Second * 10,
	ReadBufferSize:     1024 * 4,
	WriteBufferSize:    1024 * 4,
	MaxRequestBodySize: 4 * 1024 * 1024,
	Concurrency:        30_000,
	MaxConnsPerIP:      10_000,
}

// Engine bundles a fasthttp server with a router and a middleware chain.
type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func NewServer(option ServerOption) *Engine {
	return &Engine{
		Router: NewRouter(),
		Server: &fasthttp.Server{
			Name:                  option.Name,
			ReadTimeout:           option.ReadTimeout,
			WriteTimeout:          option.WriteTimeout,
			IdleTimeout:           option.IdleTimeout,
			ReadBufferSize:        option.ReadBufferSize,
			WriteBufferSize:       option.WriteBufferSize,
			MaxRequestBodySize:    option.MaxRequestBodySize,
			Concurrency:           option.Concurrency,
			MaxConnsPerIP:         option.MaxConnsPerIP,
			NoDefaultServerHeader: true,
			NoDefaultContentType:  true,
			CloseOnShutdown:       true,
			Logger:                logger.GetLogger(),
		},
		option: option,
	}
}

func CreateServer() *Engine {
	e := NewServer(DefaultServerOption)
	e.Router = CreateDefaultRouter()
	return e
}

// Use appends middleware; the first registered runs outermost.
func (e *Engine) Use(m MiddlewareFunc) {
	e.middle = append(e.middle, m)
}

func (e *Engine) ListenAndServe(addr string) error {
	e.wireHandler()
	e.Server.Logger.Printf("[xhttp] server is listening on %s", addr)
	return e.Server.ListenAndServe(addr)
}

func (e *Engine) wireHandler() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			e.Server.Logger.Printf("[xhttp] method: %s, path: %s", method, r)
		}
	}
	e.Server.Handler = e.Router.Handler
	slices.Reverse(e.middle)
	for _, m := range e.middle {
		e.Server.Handler = m(e.Server.Handler)
	}
}

// CloseOnSignal shuts the server down on SIGINT/SIGTERM/SIGQUIT.
func (e *Engine) CloseOnSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig
		e.Shutdown()
	}()
}

func (e *Engine) Shutdown() {
	e.Server.Logger.Printf("[xhttp] server is shutting down, process id: %d", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		e.Server.Logger.Printf("[xhttp] error while shutting down: %v", err)
	}
}
