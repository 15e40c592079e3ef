package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-pusher-service/internal/metrics"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/recipient"
)

// Executor is the part of *pusher.Pusher the processor drives.
type Executor interface {
	ToDevice(ctx context.Context, msg gateway.Message, token string) (*gateway.Response, error)
	ToAllDevices(ctx context.Context, msg gateway.Message) (*gateway.Response, error)
	ToUsers(ctx context.Context, msg gateway.Message, users ...recipient.UserRef) ([]*gateway.Response, error)
	ToTags(ctx context.Context, msg gateway.Message, operator string, tags ...string) (*gateway.Response, error)
	BatchToUsers(ctx context.Context, pushID string, users ...recipient.UserRef) ([]*gateway.Response, error)
	BatchToDevices(ctx context.Context, pushID string, tokens ...string) ([]*gateway.Response, error)

	SetTagsForUser(ctx context.Context, user recipient.UserRef, tags ...string) error
	SetTagsForDeviceToken(ctx context.Context, token string, tags ...string) error
	AddTagsForUser(ctx context.Context, user recipient.UserRef, tags ...string) error
	AddTagsForDeviceToken(ctx context.Context, token string, tags ...string) error
	RemoveTagsForUser(ctx context.Context, user recipient.UserRef, tags ...string) error
	RemoveTagsForDeviceToken(ctx context.Context, token string, tags ...string) error
}

// NewProcessor executes commands through the pusher.
//
// Invalid arguments and gateway parameter or not-found rejections are
// dropped with a log line. A partially failed push is acknowledged as well,
// as redelivery would repeat it for devices that already received it. Any
// other failure is returned so Pub/Sub redelivers the command.
func NewProcessor(exec Executor, logger *slog.Logger) messagepipeline.StreamProcessor[Command] {
	return func(ctx context.Context, original messagepipeline.Message, cmd *Command) error {
		procLogger := logger.With(
			"kind", string(cmd.Kind),
			"pubsub_msg_id", original.ID,
		)

		err := execute(ctx, exec, cmd)
		switch {
		case err == nil:
			metrics.ObserveCommand(string(cmd.Kind), metrics.OutcomeOK)
			procLogger.Debug("Command executed")
			return nil

		case isPermanent(err):
			metrics.ObserveCommand(string(cmd.Kind), metrics.OutcomeRejected)
			procLogger.Warn("Dropping command with invalid arguments", "err", err)
			return nil

		case cmd.Kind.IsPush() && errors.Is(err, gateway.ErrPartialFailure):
			metrics.ObserveCommand(string(cmd.Kind), metrics.OutcomePartial)
			procLogger.Error("Push partially failed; not retrying", "err", err)
			return nil

		default:
			metrics.ObserveCommand(string(cmd.Kind), metrics.OutcomeError)
			procLogger.Error("Command failed", "err", err)
			return err
		}
	}
}

// isPermanent reports whether redelivery cannot change the outcome. A batch is
// permanent only when every one of its failures is.
func isPermanent(err error) bool {
	var be *gateway.BatchError
	if errors.As(err, &be) {
		if len(be.Failures) == 0 {
			return false
		}
		for _, f := range be.Failures {
			if !isPermanent(f.Err) {
				return false
			}
		}
		return true
	}
	if errors.Is(err, gateway.ErrInvalidArgument) {
		return true
	}
	var ge *gateway.GatewayError
	if !errors.As(err, &ge) || ge.Err != nil {
		return false
	}
	return ge.Code == gateway.CodeParamError || ge.Code == gateway.CodeNotFound
}

func execute(ctx context.Context, exec Executor, cmd *Command) error {
	users, err := parseUsers(cmd)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case KindDevice:
		return forEach(string(cmd.Kind), cmd.Tokens, func(token string) error {
			_, err := exec.ToDevice(ctx, cmd.Message, token)
			return err
		})
	case KindAll:
		_, err := exec.ToAllDevices(ctx, cmd.Message)
		return err
	case KindUsers:
		_, err := exec.ToUsers(ctx, cmd.Message, users...)
		return err
	case KindTags:
		_, err := exec.ToTags(ctx, cmd.Message, cmd.Operator, cmd.Tags...)
		return err
	case KindBatchUsers:
		_, err := exec.BatchToUsers(ctx, cmd.PushID, users...)
		return err
	case KindBatchDevices:
		_, err := exec.BatchToDevices(ctx, cmd.PushID, cmd.Tokens...)
		return err
	case KindSetTags:
		return applyTags(ctx, cmd, users, exec.SetTagsForUser, exec.SetTagsForDeviceToken)
	case KindAddTags:
		return applyTags(ctx, cmd, users, exec.AddTagsForUser, exec.AddTagsForDeviceToken)
	case KindRemoveTags:
		return applyTags(ctx, cmd, users, exec.RemoveTagsForUser, exec.RemoveTagsForDeviceToken)
	default:
		return fmt.Errorf("%w: unknown command kind %q", gateway.ErrInvalidArgument, cmd.Kind)
	}
}

func parseUsers(cmd *Command) ([]recipient.UserRef, error) {
	if len(cmd.Users) == 0 {
		return nil, nil
	}
	return recipient.ParseUsers([]any{cmd.Users}, 0)
}

// applyTags runs the per-user variant when users are given, otherwise the
// per-token one.
func applyTags(
	ctx context.Context,
	cmd *Command,
	users []recipient.UserRef,
	forUser func(context.Context, recipient.UserRef, ...string) error,
	forToken func(context.Context, string, ...string) error,
) error {
	if len(users) > 0 {
		return forEach(string(cmd.Kind), users, func(u recipient.UserRef) error {
			return forUser(ctx, u, cmd.Tags...)
		})
	}
	return forEach(string(cmd.Kind), cmd.Tokens, func(token string) error {
		return forToken(ctx, token, cmd.Tags...)
	})
}

// forEach attempts fn on every item. Failures are reported as a
// *gateway.BatchError with one constituent per item.
func forEach[T any](op string, items []T, fn func(T) error) error {
	if len(items) == 0 {
		return fmt.Errorf("%s: %w: no targets", op, gateway.ErrInvalidArgument)
	}
	var failures []gateway.ChunkFailure
	for i, item := range items {
		if err := fn(item); err != nil {
			failures = append(failures, gateway.ChunkFailure{Index: i, Size: 1, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &gateway.BatchError{Op: op, Total: len(items), Failures: failures}
}
