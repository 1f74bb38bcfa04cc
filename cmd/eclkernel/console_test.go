package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/eclkernel/internal/kernelgrpc"
	"pkt.systems/eclkernel/schema"
)

type fakeKernel struct {
	executed  []string
	checked   []string
	prompted  []string
	interrupt int
}

func (f *fakeKernel) Execute(ctx context.Context, code string, opts kernelgrpc.ExecuteOptions) (kernelgrpc.ExecuteResult, error) {
	f.executed = append(f.executed, code)
	if strings.Contains(code, "//#input") && opts.Input != nil {
		value, err := opts.Input(ctx, schema.InputRequest{Prompt: "n? "})
		if err != nil {
			return kernelgrpc.ExecuteResult{}, err
		}
		f.prompted = append(f.prompted, value)
	}
	if opts.OnMessage != nil {
		opts.OnMessage(message(schema.MsgStream, schema.StreamContent{Name: schema.StreamStdout, Text: "R1:  [2]\n"}))
	}
	return kernelgrpc.ExecuteResult{Reply: schema.ReplyView{Status: schema.ReplyOK, ExecutionCount: len(f.executed)}}, nil
}

func (f *fakeKernel) IsComplete(_ context.Context, code string) (schema.IsCompleteReply, error) {
	f.checked = append(f.checked, code)
	if strings.HasSuffix(strings.TrimSpace(code), ";") {
		return schema.IsCompleteReply{Status: schema.CompletionComplete}, nil
	}
	return schema.IsCompleteReply{Status: schema.CompletionIncomplete}, nil
}

func (f *fakeKernel) History(context.Context, schema.HistoryRequest) (schema.HistoryReply, error) {
	return schema.HistoryReply{Status: schema.ReplyOK, History: [][]any{{1, 1, "OUTPUT(2);"}}}, nil
}

func (f *fakeKernel) Interrupt(context.Context) error {
	f.interrupt++
	return nil
}

func message(msgType schema.MsgType, content any) schema.Message {
	raw, _ := json.Marshal(content)
	return schema.Message{Channel: schema.ChannelIOPub, Header: schema.Header{MsgType: msgType}, Content: raw}
}

func newTestConsole(kernel kernelAPI, input string) (*console, *bytes.Buffer) {
	var out bytes.Buffer
	return &console{kernel: kernel, in: bufio.NewReader(strings.NewReader(input)), out: &out}, &out
}

func TestConsoleJoinsIncompleteLines(t *testing.T) {
	kernel := &fakeKernel{}
	c, out := newTestConsole(kernel, "x := 1 +\n2;\nOUTPUT(x);\n")
	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"x := 1 +\n2;\n", "OUTPUT(x);\n"}
	if diff := cmp.Diff(want, kernel.executed); diff != "" {
		t.Fatalf("executed mismatch (-want +got):\n%s", diff)
	}
	if strings.Count(out.String(), "R1:  [2]") != 2 {
		t.Fatalf("expected rendered output twice, got %q", out.String())
	}
}

func TestConsoleExecutesTrailingCellAtEOF(t *testing.T) {
	kernel := &fakeKernel{}
	c, _ := newTestConsole(kernel, "OUTPUT(1)")
	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"OUTPUT(1)"}, kernel.executed); diff != "" {
		t.Fatalf("executed mismatch (-want +got):\n%s", diff)
	}
}

func TestConsoleAnswersInputFromStdin(t *testing.T) {
	kernel := &fakeKernel{}
	c, out := newTestConsole(kernel, "//#input n\nOUTPUT(n);\n5\n")
	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"5"}, kernel.prompted); diff != "" {
		t.Fatalf("prompt mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "n? ") {
		t.Fatalf("expected prompt to be printed, got %q", out.String())
	}
}

func TestConsoleCommands(t *testing.T) {
	kernel := &fakeKernel{}
	c, out := newTestConsole(kernel, ":history\n:interrupt\n:quit\nOUTPUT(1);\n")
	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "[1] OUTPUT(2);") {
		t.Fatalf("expected history output, got %q", out.String())
	}
	if kernel.interrupt != 1 {
		t.Fatalf("expected one interrupt, got %d", kernel.interrupt)
	}
	if len(kernel.executed) != 0 {
		t.Fatalf("expected :quit to stop before executing, got %v", kernel.executed)
	}
}

func TestRenderMessage(t *testing.T) {
	var out bytes.Buffer
	renderMessage(&out, message(schema.MsgExecuteResult, schema.ExecuteResult{ExecutionCount: 3, Data: schema.MimeBundle{"text/plain": "[2]"}}))
	renderMessage(&out, message(schema.MsgError, schema.ErrorContent{Ename: "ECLException", Evalue: "syntax error"}))
	renderMessage(&out, message(schema.MsgDisplayData, schema.DisplayContent{Data: schema.MimeBundle{"text/plain": "W1: running"}}))
	renderMessage(&out, message(schema.MsgStatus, schema.StatusContent{ExecutionState: schema.StateIdle}))
	want := "Out[3]: [2]\nECLException: syntax error\nW1: running\n"
	if out.String() != want {
		t.Fatalf("unexpected render %q", out.String())
	}
}
