package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-core-stack/throttle/errors"
	"github.com/go-core-stack/throttle/rate"
)

const catLimiter = "cat"

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newCatCmd(a *app) *cobra.Command {
	var bytesPerSecond, minTake, maxTake int64
	var limiterName string

	cmd := &cobra.Command{
		Use:   "cat [file...]",
		Short: "Copy files (or stdin) to stdout at a limited rate",
		Long: `Copy files, or stdin when none are given, to stdout no faster than
--rate bytes per second. A rate of 0 copies without limit.

With --limiter the rate parameters of a limiter from the config file are
used instead of the flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := rate.NewLimitManager(0, rate.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if limiterName != "" {
				l, ok := a.cfg.Limiters[limiterName]
				if !ok {
					return errors.Wrapf(errors.NotFound, "limiter %q is not configured", limiterName)
				}
				l, err := l.WithDefaults()
				if err != nil {
					return errors.Wrapf(errors.InvalidArgument, "limiters.%s: %s", limiterName, err)
				}
				bytesPerSecond, minTake, maxTake = l.BytesPerSecond, l.MinTake, l.MaxTake
			}
			if _, err := mgr.NewLimiter(catLimiter, bytesPerSecond, minTake, maxTake); err != nil {
				return err
			}

			out, err := mgr.WrapWriter(cmd.Context(), catLimiter, nopWriteCloser{cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			defer out.Close()

			if len(args) == 0 {
				_, err := io.Copy(out, cmd.InOrStdin())
				return err
			}
			for _, name := range args {
				if err := copyFile(out, name); err != nil {
					return err
				}
				a.logger.Debug("file copied", zap.String("file", name))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&bytesPerSecond, "rate", 0, "sustained rate in bytes per second, 0 for unlimited")
	cmd.Flags().Int64Var(&minTake, "min-take", rate.DefaultMinTake, "smallest chunk written once waiting is required")
	cmd.Flags().Int64Var(&maxTake, "max-take", rate.DefaultMaxTake, "largest burst written without waiting")
	cmd.Flags().StringVar(&limiterName, "limiter", "", "use the named limiter from the config file")
	return cmd
}

func copyFile(out io.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}
