package sh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/tripcomm/pkg/config"
	fx "github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/transport"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell  *ishell.Shell
	Config *config.Config
	Conn   *Conn

	// Dial opens the link to a device, transport.Open by default.
	Dial func(device string, baud int) (link.Channel, error)

	lastErr error
}

// Conn is a running client over an opened link.
type Conn struct {
	Device string
	Client *link.Client
	Runner *fx.Runner
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var commands = []*ishell.Cmd{
	&ConnectCmd,
	&DisconnectCmd,
	&ReadCmd,
	&ReadLaterCmd,
	&WriteCmd,
	&ExecCmd,
	&StartCmd,
	&CheckCmd,
	&EventsCmd,
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *config.Config) *Shell {
	s := &Shell{
		Interactive: true,
		Shell:       ishell.New(),
		Config:      conf,
		Dial: func(device string, baud int) (link.Channel, error) {
			return transport.Open(device, baud)
		},
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context, client *link.Client)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := ShellFrom(c)
		if s.Conn == nil {
			s.Fail(c, fmt.Errorf("not connected"))
			return
		}
		fn(c, s.Conn.Client)
	}
}

// Fail reports err and remembers it as the result of the command.
func (s *Shell) Fail(c *ishell.Context, err error) {
	s.lastErr = err
	c.Err(err)
}

// Context returns a context bounded by the longest wait of a request.
func (s *Shell) Context() (context.Context, context.CancelFunc) {
	conf := s.Config.ClientConfig()
	return context.WithTimeout(context.Background(), conf.Delayed+conf.Response)
}

// Print prints a result as JSON or by the text formatter.
func (s *Shell) Print(c *ishell.Context, v interface{}, text func() string) {
	if !s.OutputJSON {
		c.Println(text())
		return
	}
	out, err := json.Marshal(v)
	if err != nil {
		s.Fail(c, err)
		return
	}
	c.Println(string(out))
}

// Connect opens device and starts a client over it.
func (s *Shell) Connect(device string) error {
	if device == "" {
		return fmt.Errorf("device required")
	}
	ch, err := s.Dial(device, s.Config.Baud)
	if err != nil {
		return err
	}
	client := link.NewClient(s.Config.ClientConfig(), ch)
	conn := &Conn{Device: device, Client: client, Runner: fx.NewRunner()}
	if r, ok := ch.(fx.Runnable); ok {
		conn.Runner.Go(fx.NamedRun(device, r))
	}
	conn.Runner.Go(fx.NamedRun("client", client))
	s.Disconnect()
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", device))
	return nil
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Runner.Stop()
		s.Conn.Runner.Wait()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run connects the configured device and runs the shell. With args, the
// single command is processed and its error returned.
func (s *Shell) Run(args ...string) error {
	defer s.Disconnect()
	if s.Config.Device != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Device)
		}
		if err := s.Connect(s.Config.Device); err != nil {
			return fmt.Errorf("connect %q failed: %w", s.Config.Device, err)
		}
	}

	if len(args) > 0 {
		s.lastErr = nil
		if err := s.Shell.Process(args...); err != nil {
			return err
		}
		return s.lastErr
	}
	if s.Interactive {
		s.Shell.Run()
		return nil
	}
	return fmt.Errorf("command expected")
}

func formatData(data []byte) string {
	if len(data) == 0 {
		return "OK (empty)"
	}
	return strings.ToUpper(hex.EncodeToString(data))
}
