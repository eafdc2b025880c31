package verify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/lyndonlyu/ripcord/internal/config"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
)

// BuildChecks turns the configured check registry into runnable checks.
// A check with a command runs it through the shell; a check without one
// maps to a built-in probe of the same name. Unknown built-in names fail
// closed with an explanatory error rather than passing vacuously.
func BuildChecks(cfgs []config.CheckConfig, repo *gitrepo.Repo, cfg *config.Config) []Check {
	checks := make([]Check, 0, len(cfgs))
	for _, cc := range cfgs {
		timeout := time.Duration(cc.TimeoutSeconds) * time.Second
		var probe Probe
		if cc.Command != "" {
			probe = commandProbe(cc.Command, repo.Dir())
		} else {
			probe = builtinProbe(cc.Name, repo, cfg)
		}
		checks = append(checks, Check{Name: cc.Name, Timeout: timeout, Probe: probe})
	}
	return checks
}

func commandProbe(command, dir string) Probe {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if ctx.Err() == context.DeadlineExceeded {
			return context.DeadlineExceeded
		}
		if err != nil {
			return fmt.Errorf("command %q: %v: %s", command, err, out)
		}
		return nil
	}
}

func builtinProbe(name string, repo *gitrepo.Repo, cfg *config.Config) Probe {
	switch name {
	case "core_service":
		// HEAD must resolve and point at a real commit: the minimum
		// signal that the rolled-back tree is a usable state.
		return func(ctx context.Context) error {
			if _, err := repo.Head(ctx); err != nil {
				return err
			}
			return nil
		}
	case "configuration_system":
		return func(ctx context.Context) error {
			_, err := config.Load(filepath.Join(cfg.BaseDir, "config.yaml"))
			return err
		}
	case "worktree_clean":
		return func(ctx context.Context) error {
			clean, err := repo.IsClean(ctx)
			if err != nil {
				return err
			}
			if !clean {
				return fmt.Errorf("working tree has uncommitted changes after rollback")
			}
			return nil
		}
	case "reports_dir_writable":
		return func(ctx context.Context) error {
			tmp := filepath.Join(cfg.ReportsDir(), ".health_check_tmp")
			if err := os.WriteFile(tmp, []byte("ok"), 0644); err != nil {
				return err
			}
			return os.Remove(tmp)
		}
	default:
		return func(ctx context.Context) error {
			return fmt.Errorf("no built-in check named %q and no command configured", name)
		}
	}
}
