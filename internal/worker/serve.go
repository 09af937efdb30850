package worker

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"aitrader/internal/ipc"
)

// Serve runs the worker over a JSON-lines control channel: commands are
// read from in and events are written to out.
func (w *Worker) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	w.Events = ipc.NewEncoder(out)
	w.emit(ipc.Event{Type: ipc.EventStatus, State: ipc.StateStarting})
	if err := w.Init(ctx); err != nil {
		w.Logger.Error("worker init failed", zap.Error(err))
		w.ReportInitFailure(ctx, err)
		return err
	}
	cmds := make(chan ipc.Command, 8)
	go readCommands(in, cmds, w.Logger)
	return w.Run(ctx, cmds)
}

// readCommands closes cmds when the stream ends, which the loop treats as
// the manager going away.
func readCommands(in io.Reader, cmds chan<- ipc.Command, logger *zap.Logger) {
	defer close(cmds)
	dec := ipc.NewDecoder(in)
	for {
		var cmd ipc.Command
		err := dec.Decode(&cmd)
		switch {
		case err == nil:
			if !cmd.Type.Valid() {
				logger.Warn("invalid command ignored", zap.String("command", string(cmd.Type)))
				continue
			}
			cmds <- cmd
		case errors.Is(err, ipc.ErrMalformed):
			logger.Warn("malformed command ignored", zap.Error(err))
		default:
			if !errors.Is(err, io.EOF) {
				logger.Warn("control channel read failed", zap.Error(err))
			}
			return
		}
	}
}
