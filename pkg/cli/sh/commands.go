package sh

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/frame"
)

var bufTypeNames = map[string]frame.BufType{
	"rtdata":  frame.BufTypeRTData,
	"diag":    frame.BufTypeDiag,
	"setp":    frame.BufTypeSetp,
	"event":   frame.BufTypeEvent,
	"check":   frame.BufTypeCheck,
	"factory": frame.BufTypeFactory,
	"goose":   frame.BufTypeGoose,
}

var actTypeNames = map[string]frame.BufType{
	"setp":    frame.ActTypeSetp,
	"reset":   frame.ActTypeReset,
	"tu":      frame.ActTypeTU,
	"capture": frame.ActTypeCapture,
	"diag":    frame.ActTypeDiag,
	"time":    frame.ActTypeTime,
	"others":  frame.ActTypeOthers,
	"pwd":     frame.ActTypePwd,
	"factory": frame.ActTypeFactory,
}

func parseType(names map[string]frame.BufType, s string) (frame.BufType, error) {
	if typ, ok := names[strings.ToLower(s)]; ok {
		return typ, nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown type %q", s)
	}
	return frame.BufType(n), nil
}

// ParseBufType parses a buffer type by name or number.
func ParseBufType(s string) (frame.BufType, error) {
	return parseType(bufTypeNames, s)
}

// ParseActType parses an execute action type by name or number.
func ParseActType(s string) (frame.BufType, error) {
	return parseType(actTypeNames, s)
}

// ParseKey parses the TYPE ID arguments of a command.
func ParseKey(args []string, parseType func(string) (frame.BufType, error)) (link.BufKey, error) {
	if len(args) < 2 {
		return link.BufKey{}, fmt.Errorf("TYPE ID expected")
	}
	typ, err := parseType(args[0])
	if err != nil {
		return link.BufKey{}, err
	}
	id, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return link.BufKey{}, fmt.Errorf("invalid id %q: %w", args[1], err)
	}
	return link.BufKey{Type: typ, ID: uint16(id)}, nil
}

// ParseData parses hex payload arguments, spaces between bytes allowed.
func ParseData(args []string) ([]byte, error) {
	return hex.DecodeString(strings.Join(args, ""))
}

type dataResult struct {
	Buffer string `json:"buffer"`
	Data   string `json:"data"`
}

type eventResult struct {
	Command string `json:"command"`
	Seq     uint8  `json:"seq"`
	Buffer  string `json:"buffer"`
	Data    string `json:"data"`
}

func readFunc(later bool) func(c *ishell.Context, client *link.Client) {
	return func(c *ishell.Context, client *link.Client) {
		s := ShellFrom(c)
		key, err := ParseKey(c.Args, ParseBufType)
		if err != nil {
			s.Fail(c, err)
			return
		}
		ctx, cancel := s.Context()
		defer cancel()
		var data []byte
		if later {
			data, err = client.ReadLater(ctx, key.Type, key.ID)
		} else {
			data, err = client.ReadNow(ctx, key.Type, key.ID)
		}
		if err != nil {
			s.Fail(c, err)
			return
		}
		res := &dataResult{Buffer: key.String(), Data: hex.EncodeToString(data)}
		s.Print(c, res, func() string { return formatData(data) })
	}
}

func execFunc(check bool) func(c *ishell.Context, client *link.Client) {
	return func(c *ishell.Context, client *link.Client) {
		s := ShellFrom(c)
		key, err := ParseKey(c.Args, ParseActType)
		if err != nil {
			s.Fail(c, err)
			return
		}
		arg, err := ParseData(c.Args[2:])
		if err != nil {
			s.Fail(c, err)
			return
		}
		ctx, cancel := s.Context()
		defer cancel()
		if check {
			err = client.ExecuteCheck(ctx, key.Type, key.ID, arg)
		} else {
			err = client.Execute(ctx, key.Type, key.ID, arg)
		}
		if err != nil {
			s.Fail(c, err)
			return
		}
		s.Print(c, &dataResult{Buffer: key.String()}, func() string { return "OK" })
	}
}

var (
	// ConnectCmd connects a device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "DEVICE",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			device := s.Config.Device
			if len(c.Args) > 0 {
				device = c.Args[0]
			}
			if err := s.Connect(device); err != nil {
				s.Fail(c, err)
			}
		},
	}

	// DisconnectCmd disconnects current device.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// ReadCmd reads a buffer immediately.
	ReadCmd = ishell.Cmd{
		Name:    "read",
		Aliases: []string{"r"},
		Help:    "TYPE ID",
		Func:    MustBeConnected(readFunc(false)),
	}

	// ReadLaterCmd requests a delayed read.
	ReadLaterCmd = ishell.Cmd{
		Name: "readlater",
		Help: "TYPE ID",
		Func: MustBeConnected(readFunc(true)),
	}

	// WriteCmd writes a buffer.
	WriteCmd = ishell.Cmd{
		Name:    "write",
		Aliases: []string{"w"},
		Help:    "TYPE ID HEX",
		Func: MustBeConnected(func(c *ishell.Context, client *link.Client) {
			s := ShellFrom(c)
			key, err := ParseKey(c.Args, ParseBufType)
			if err != nil {
				s.Fail(c, err)
				return
			}
			data, err := ParseData(c.Args[2:])
			if err != nil {
				s.Fail(c, err)
				return
			}
			ctx, cancel := s.Context()
			defer cancel()
			if err := client.Write(ctx, key.Type, key.ID, data); err != nil {
				s.Fail(c, err)
				return
			}
			s.Print(c, &dataResult{Buffer: key.String()}, func() string { return "OK" })
		}),
	}

	// ExecCmd runs an action.
	ExecCmd = ishell.Cmd{
		Name:    "exec",
		Aliases: []string{"x"},
		Help:    "ACTION ID [HEX]",
		Func:    MustBeConnected(execFunc(false)),
	}

	// StartCmd starts an asynchronous action, polled with check.
	StartCmd = ishell.Cmd{
		Name: "start",
		Help: "ACTION ID [HEX]",
		Func: MustBeConnected(execFunc(true)),
	}

	// CheckCmd reads the status of the last asynchronous session.
	CheckCmd = ishell.Cmd{
		Name: "check",
		Help: "",
		Func: MustBeConnected(func(c *ishell.Context, client *link.Client) {
			s := ShellFrom(c)
			ctx, cancel := s.Context()
			defer cancel()
			status, err := client.CheckStatus(ctx)
			if err != nil {
				s.Fail(c, err)
				return
			}
			s.Print(c, map[string]string{"status": status.String()}, status.String)
		}),
	}

	// EventsCmd prints the unsolicited messages received in a period.
	EventsCmd = ishell.Cmd{
		Name: "events",
		Help: "[DURATION]",
		Func: MustBeConnected(func(c *ishell.Context, client *link.Client) {
			s := ShellFrom(c)
			period := time.Second
			if len(c.Args) > 0 {
				d, err := time.ParseDuration(c.Args[0])
				if err != nil {
					s.Fail(c, err)
					return
				}
				period = d
			}
			timer := time.NewTimer(period)
			defer timer.Stop()
			for {
				select {
				case <-timer.C:
					return
				case m := <-client.EventChan():
					key := link.BufKey{Type: m.BufType, ID: m.BufID}
					res := &eventResult{
						Command: m.Command.String(),
						Seq:     uint8(m.Seq),
						Buffer:  key.String(),
						Data:    hex.EncodeToString(m.Payload),
					}
					s.Print(c, res, func() string {
						return fmt.Sprintf("%s %s: %s", m.Command, key, formatData(m.Payload))
					})
				}
			}
		}),
	}
)
