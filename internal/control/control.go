// Package control provides Unix socket IPC between a running deskshell and
// later invocations of the CLI.
package control

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"

	"github.com/rs/zerolog"

	"deskshell/internal/lifecycle"
)

// Target is what the control service drives.
type Target interface {
	State() lifecycle.State
	Windows() int
	MachineID() string
	Quit() error
	Install() error
	Activate() error
}

// Service is the RPC service exposed by the running instance.
type Service struct {
	target Target
	log    zerolog.Logger
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
type StatusReply struct {
	State     string
	Windows   int
	MachineID string
}

// QuitArgs is the request for Quit.
type QuitArgs struct {
	Install bool
}

// QuitReply is the response for Quit.
type QuitReply struct {
	State string
}

// ActivateArgs is the request for Activate.
type ActivateArgs struct{}

// ActivateReply is the response for Activate.
type ActivateReply struct {
	Windows int
}

// Status reports the lifecycle state and open window count.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	reply.State = s.target.State().String()
	reply.Windows = s.target.Windows()
	reply.MachineID = s.target.MachineID()
	return nil
}

// Quit asks the instance to quit, optionally installing a downloaded update.
func (s *Service) Quit(args *QuitArgs, reply *QuitReply) error {
	var err error
	if args.Install {
		s.log.Info().Msg("Install requested over control socket")
		err = s.target.Install()
	} else {
		s.log.Info().Msg("Quit requested over control socket")
		err = s.target.Quit()
	}
	reply.State = s.target.State().String()
	if err != nil {
		return fmt.Errorf("applying request: %w", err)
	}
	return nil
}

// Activate opens a dashboard window if none is open.
func (s *Service) Activate(args *ActivateArgs, reply *ActivateReply) error {
	s.log.Info().Msg("Activate requested over control socket")
	if err := s.target.Activate(); err != nil {
		return fmt.Errorf("activating: %w", err)
	}
	reply.Windows = s.target.Windows()
	return nil
}

// Server is a running control listener.
type Server struct {
	listener net.Listener
	path     string
	log      zerolog.Logger
}

// StartServer starts the Unix socket RPC server.
func StartServer(socketPath string, target Target, log zerolog.Logger) (*Server, error) {
	service := &Service{target: target, log: log}

	server := netrpc.NewServer()
	if err := server.Register(service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove a stale socket left by a crashed instance.
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("Control server started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("Control accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return &Server{listener: listener, path: socketPath, log: log}, nil
}

// Close stops accepting connections and removes the socket.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}

// Client is a client for the control service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to control socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Status fetches the running instance's status.
func (c *Client) Status() (*StatusReply, error) {
	reply := &StatusReply{}
	if err := c.client.Call("Service.Status", &StatusArgs{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Quit asks the running instance to quit. With install set, the pending
// update is applied on the way out.
func (c *Client) Quit(install bool) (string, error) {
	reply := &QuitReply{}
	if err := c.client.Call("Service.Quit", &QuitArgs{Install: install}, reply); err != nil {
		return reply.State, err
	}
	return reply.State, nil
}

// Activate asks the running instance to show a window and returns its
// open window count.
func (c *Client) Activate() (int, error) {
	reply := &ActivateReply{}
	if err := c.client.Call("Service.Activate", &ActivateArgs{}, reply); err != nil {
		return 0, err
	}
	return reply.Windows, nil
}
