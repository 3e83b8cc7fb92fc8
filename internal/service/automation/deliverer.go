package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

const outputLimit = 64 << 10

// CommandDeliverer uploads by running an external script. The delivery is
// written to the script's stdin as JSON; a non-zero exit fails the item
// with the last line the script printed.
type CommandDeliverer struct {
	platform models.PlatformType
	cmd      Command
	logger   *zap.Logger
}

func NewCommandDeliverer(platform models.PlatformType, cmd Command, logger *zap.Logger) (*CommandDeliverer, error) {
	if err := cmd.validate(); err != nil {
		return nil, fmt.Errorf("deliver command for %s: %w", platform, err)
	}
	return &CommandDeliverer{platform: platform, cmd: cmd, logger: logger}, nil
}

func (d *CommandDeliverer) Platform() models.PlatformType { return d.platform }

func (d *CommandDeliverer) Deliver(ctx context.Context, delivery publisher.Delivery) error {
	payload, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	env := []string{
		"FANOUT_PLATFORM=" + d.platform.String(),
		"FANOUT_TASK_ID=" + strconv.FormatUint(uint64(delivery.TaskID), 10),
		"FANOUT_FILE=" + delivery.File,
		"FANOUT_ACCOUNT=" + delivery.Account,
	}
	if delivery.ScheduledAt != nil {
		env = append(env, "FANOUT_SCHEDULED_AT="+delivery.ScheduledAt.Format(time.RFC3339))
	}

	cmd, runCtx, cancel := d.cmd.prepare(ctx, nil, env...)
	defer cancel()

	out := &limitedBuffer{max: outputLimit}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	if err := cmd.Run(); err != nil {
		failure := describeFailure(runCtx, d.cmd.Timeout, err, out.String())
		d.logger.Debug("Deliver command failed",
			zap.String("platform", d.platform.String()),
			zap.String("file", delivery.File),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return failure
	}

	d.logger.Debug("Deliver command finished",
		zap.String("platform", d.platform.String()),
		zap.String("file", delivery.File),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
