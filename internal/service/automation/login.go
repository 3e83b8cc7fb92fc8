package automation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/pkg/util"
)

// maxLoginLine bounds one stdout line; QR codes often arrive as data URLs.
const maxLoginLine = 1 << 20

// CommandLogin runs an external login script. Each non-empty stdout line
// is relayed as a progress token. A clean exit without a terminal token
// counts as success.
type CommandLogin struct {
	platform  models.PlatformType
	cmd       Command
	cookieDir string
	logger    *zap.Logger
}

func NewCommandLogin(platform models.PlatformType, cmd Command, cookieDir string, logger *zap.Logger) (*CommandLogin, error) {
	if err := cmd.validate(); err != nil {
		return nil, fmt.Errorf("login command for %s: %w", platform, err)
	}
	return &CommandLogin{platform: platform, cmd: cmd, cookieDir: cookieDir, logger: logger}, nil
}

func (l *CommandLogin) Platform() models.PlatformType { return l.platform }

// CookieFile is the relative cookie file name stored for accountKey.
func CookieFile(accountKey string) string {
	return accountKey + ".json"
}

func (l *CommandLogin) Run(ctx context.Context, accountKey string, emit func(string)) error {
	cookiePath, err := util.SafeJoin(l.cookieDir, CookieFile(accountKey))
	if err != nil {
		return fmt.Errorf("invalid account %q: %w", accountKey, err)
	}

	ctx, kill := context.WithCancel(ctx)
	defer kill()

	cmd, runCtx, cancel := l.cmd.prepare(ctx, []string{accountKey},
		"FANOUT_PLATFORM="+l.platform.String(),
		"FANOUT_ACCOUNT="+accountKey,
		"FANOUT_COOKIE_FILE="+cookiePath,
	)
	defer cancel()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr := &limitedBuffer{max: outputLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start login command: %w", err)
	}

	terminal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLoginLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if models.IsTerminalToken(line) {
			terminal = true
		}
		emit(line)
	}

	// an unread pipe would block the child forever
	if err := scanner.Err(); err != nil {
		kill()
		go io.Copy(io.Discard, stdout)
		_ = cmd.Wait()
		l.logger.Warn("Login output unreadable",
			zap.String("platform", l.platform.String()),
			zap.String("account", accountKey),
			zap.Error(err))
		return fmt.Errorf("failed to read login output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		failure := describeFailure(runCtx, l.cmd.Timeout, err, stderr.String())
		l.logger.Warn("Login command failed",
			zap.String("platform", l.platform.String()),
			zap.String("account", accountKey),
			zap.Error(err))
		return fmt.Errorf("login command failed: %w", failure)
	}
	if !terminal {
		emit(models.LoginSucceeded)
	}
	return nil
}
