package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/eclkernel/internal/appconfig"
	"pkt.systems/eclkernel/internal/kernelgrpc"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

const (
	promptPrimary      = "ecl> "
	promptContinuation = "...> "
)

// kernelAPI is the part of kernelgrpc.Client the console drives.
type kernelAPI interface {
	Execute(ctx context.Context, code string, opts kernelgrpc.ExecuteOptions) (kernelgrpc.ExecuteResult, error)
	IsComplete(ctx context.Context, code string) (schema.IsCompleteReply, error)
	History(ctx context.Context, req schema.HistoryRequest) (schema.HistoryReply, error)
	Interrupt(ctx context.Context) error
}

func newConsoleCmd() *cobra.Command {
	var cfgPath string
	var connect string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive ECL console attached to a running kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := connect
			if addr == "" {
				cfg, err := appconfig.Load(cfgPath)
				if err != nil {
					return err
				}
				addr = cfg.Transport.Listen
			}
			ctx := cmd.Context()
			client, err := kernelgrpc.Dial(ctx, addr, kernelgrpc.WithUsername(currentUser()))
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			pslog.Ctx(ctx).Debug("console connected", "addr", addr)

			c := &console{
				kernel: client,
				in:     bufio.NewReader(cmd.InOrStdin()),
				out:    cmd.OutOrStdout(),
			}
			if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				fd := int(f.Fd())
				c.interactive = true
				c.readPassword = func() (string, error) {
					b, err := term.ReadPassword(fd)
					_, _ = fmt.Fprintln(c.out)
					return string(b), err
				}
			}
			return c.run(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&connect, "connect", "", "kernel address (default: transport.listen from config)")
	return cmd
}

func currentUser() string {
	if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
		return name
	}
	return "console"
}

type console struct {
	kernel       kernelAPI
	in           *bufio.Reader
	out          io.Writer
	interactive  bool
	readPassword func() (string, error)
}

// run reads cells until EOF. A cell ends when the kernel reports it complete.
func (c *console) run(ctx context.Context) error {
	var cell strings.Builder
	for {
		if c.interactive {
			prompt := promptPrimary
			if cell.Len() > 0 {
				prompt = promptContinuation
			}
			_, _ = fmt.Fprint(c.out, prompt)
		}
		line, err := c.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)
		if line == "" && eof {
			if cell.Len() > 0 {
				return c.execute(ctx, cell.String())
			}
			return nil
		}
		if cell.Len() == 0 {
			if handled, cmdErr := c.command(ctx, strings.TrimSpace(line)); handled {
				if errors.Is(cmdErr, io.EOF) {
					return nil
				}
				if cmdErr != nil {
					return cmdErr
				}
				if eof {
					return nil
				}
				continue
			}
		}
		cell.WriteString(line)
		code := cell.String()
		if strings.TrimSpace(code) == "" {
			cell.Reset()
			continue
		}
		reply, err := c.kernel.IsComplete(ctx, code)
		if err != nil {
			return err
		}
		if reply.Status == schema.CompletionIncomplete && !eof {
			continue
		}
		cell.Reset()
		if err := c.execute(ctx, code); err != nil {
			return err
		}
		if eof {
			return nil
		}
	}
}

// command handles console meta commands. io.EOF ends the session.
func (c *console) command(ctx context.Context, line string) (bool, error) {
	switch line {
	case ":quit", ":q":
		return true, io.EOF
	case ":history":
		reply, err := c.kernel.History(ctx, schema.HistoryRequest{HistAccessType: "tail", N: 20})
		if err != nil {
			return true, err
		}
		for _, entry := range reply.History {
			if len(entry) == 3 {
				_, _ = fmt.Fprintf(c.out, "[%v] %v\n", entry[1], entry[2])
			}
		}
		return true, nil
	case ":interrupt":
		return true, c.kernel.Interrupt(ctx)
	}
	return false, nil
}

func (c *console) execute(ctx context.Context, code string) error {
	_, err := c.kernel.Execute(ctx, code, kernelgrpc.ExecuteOptions{
		StoreHistory: true,
		Input:        c.prompt,
		OnMessage: func(msg schema.Message) {
			renderMessage(c.out, msg)
		},
	})
	return err
}

func (c *console) prompt(_ context.Context, req schema.InputRequest) (string, error) {
	_, _ = fmt.Fprint(c.out, req.Prompt)
	if req.Password && c.readPassword != nil {
		return c.readPassword()
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// renderMessage prints the user-visible part of an iopub message.
func renderMessage(w io.Writer, msg schema.Message) {
	switch msg.Header.MsgType {
	case schema.MsgStream:
		var stream schema.StreamContent
		if msg.Decode(&stream) == nil {
			_, _ = fmt.Fprint(w, stream.Text)
		}
	case schema.MsgExecuteResult:
		var result schema.ExecuteResult
		if msg.Decode(&result) == nil {
			if text, ok := result.Data.PlainText(); ok {
				_, _ = fmt.Fprintf(w, "Out[%d]: %s\n", result.ExecutionCount, text)
			}
		}
	case schema.MsgDisplayData, schema.MsgUpdateDisplayData:
		var display schema.DisplayContent
		if msg.Decode(&display) == nil {
			if text, ok := display.Data.PlainText(); ok {
				_, _ = fmt.Fprintln(w, text)
			}
		}
	case schema.MsgError:
		var content schema.ErrorContent
		if msg.Decode(&content) == nil {
			_, _ = fmt.Fprintf(w, "%s: %s\n", content.Ename, content.Evalue)
		}
	}
}
