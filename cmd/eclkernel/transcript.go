package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/eclkernel/internal/transcript"
	"pkt.systems/eclkernel/schema"
)

func newTranscriptCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "transcript <path>",
		Short: "Print a message transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = file.Close() }()
			return printTranscript(cmd.OutOrStdout(), file, schema.Channel(channel))
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "only print messages on this channel")
	return cmd
}

// printTranscript writes one line per entry: time, channel, type, parent and content.
func printTranscript(w io.Writer, r io.Reader, channel schema.Channel) error {
	reader := transcript.NewReader(r)
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		msg := entry.Message
		if channel != "" && msg.Channel != channel {
			continue
		}
		parent := "-"
		if id := msg.ParentID(); id != "" {
			parent = shortID(id)
		}
		content := strings.TrimSpace(string(msg.Content))
		if _, err := fmt.Fprintf(w, "%s %-7s %-20s %-8s %s\n",
			entry.Time.Format("15:04:05.000"), msg.Channel, msg.Header.MsgType, parent, content); err != nil {
			return err
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
