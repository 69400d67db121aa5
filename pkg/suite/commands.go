package suite

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lefterav/expsuite/internal/config"
	"github.com/lefterav/expsuite/internal/core"
	"github.com/lefterav/expsuite/internal/expand"
	"github.com/lefterav/expsuite/internal/journal"
	"github.com/lefterav/expsuite/internal/layout"
	"github.com/lefterav/expsuite/internal/runlog"
	"github.com/lefterav/expsuite/internal/worker"
	"github.com/lefterav/expsuite/pkg/api"
)

// Run the experiments of one or more experiment files
func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [experiments.yaml ...]",
		Short: "Run every experiment of the given experiment files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{""}
			}
			var sets []*api.Params
			for _, path := range args {
				s, err := config.LoadExperiments(path)
				if err != nil {
					return err
				}
				sets = append(sets, s...)
			}
			only, _ := cmd.Flags().GetStringSlice("only")
			sets, err := selectSets(sets, only)
			if err != nil {
				return err
			}
			del, _ := cmd.Flags().GetBool("delete")
			rerun, _ := cmd.Flags().GetInt("rerun")
			return a.dispatch(cmd, sets, del, rerun)
		},
	}
	addDispatchFlags(cmd)
	cmd.Flags().BoolP("delete", "d", false, "delete existing logs and start over")
	cmd.Flags().IntP("rerun", "r", 0, "re-execute everything after this iteration (backs up the logs)")
	cmd.Flags().StringSlice("only", nil, "run only these sections")
	return cmd
}

// Re-run experiment trees from their snapshots
func (a *app) newRerunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rerun DIR [DIR ...]",
		Short: "Re-execute existing experiment directories after a given iteration",
		Long: "rerun finds every experiment below the given directories, reads its parameters " +
			"back from the stored snapshot and re-executes all iterations after --from.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetInt("from")
			sets, err := loadTrees(args)
			if err != nil {
				return err
			}
			return a.dispatch(cmd, sets, false, from)
		},
	}
	addDispatchFlags(cmd)
	cmd.Flags().IntP("from", "r", 0, "iteration after which everything is re-executed")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// Show the progress of experiments
func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [experiments.yaml | DIR ...]",
		Short: "Show progress and crashes of experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{""}
			}
			var sets []*api.Params
			for _, arg := range args {
				s, err := resolve(arg)
				if err != nil {
					return err
				}
				sets = append(sets, s...)
			}
			progress, err := core.Inspect(sets)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range progress {
				mark := ""
				if p.Crashed() {
					mark = "\tCRASHED"
				}
				fmt.Fprintf(out, "%s\t%d%%\t%d reps%s\n", p.Name, p.Percent(), len(p.Reps), mark)
			}
			return nil
		},
	}
}

// Print the value history of a repetition
func (a *app) newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history DIR [TAG ...]",
		Short: "Print the logged values of one repetition, per tag",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, _ := cmd.Flags().GetInt("rep")
			h, err := runlog.History(layout.LogPath(args[0], rep), args[1:]...)
			if err != nil {
				return err
			}
			tags := make([]string, 0, len(h))
			for t := range h {
				tags = append(tags, t)
			}
			sort.Strings(tags)
			out := cmd.OutOrStdout()
			for _, t := range tags {
				vals := make([]string, len(h[t]))
				for i, v := range h[t] {
					vals[i] = runlog.FormatValue(v)
				}
				fmt.Fprintf(out, "%s\t%s\n", t, strings.Join(vals, " "))
			}
			return nil
		},
	}
	cmd.Flags().Int("rep", 0, "repetition to read")
	return cmd
}

// Run one repetition on behalf of a parent process
func (a *app) newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one repetition read from stdin (used by --isolation subprocess)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("experiment")
			f, err := a.reg.Get(name)
			if err != nil {
				return err
			}
			return core.ServeWorker(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), core.Factory(f), log.Logger)
		},
	}
}

func addDispatchFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("workers", "j", 0, "parallel repetitions (default: settings file, else one per CPU)")
	cmd.Flags().String("isolation", "", "inprocess or subprocess")
	cmd.Flags().String("journal", "", "SQLite journal recording every dispatch")
}

// settings loads the settings file and applies command line overrides.
func settings(cmd *cobra.Command) (config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	s, err := config.LoadSettings(path)
	if err != nil {
		return s, err
	}
	if cmd.Flags().Changed("workers") {
		s.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("isolation") {
		s.Isolation, _ = cmd.Flags().GetString("isolation")
	}
	if cmd.Flags().Changed("journal") {
		s.Journal, _ = cmd.Flags().GetString("journal")
	}
	if !cmd.Flags().Changed("log") && s.LogLevel != "" {
		setLevel(s.LogLevel)
	}
	return s, s.Validate()
}

func (a *app) executor(cmd *cobra.Command, s config.Settings) (core.Executor, error) {
	name, _ := cmd.Flags().GetString("experiment")
	f, err := a.reg.Get(name)
	if err != nil {
		return nil, err
	}
	if s.Isolation != config.IsolationSubprocess {
		return core.NewInProcess(core.Factory(f), log.Logger), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate worker binary: %w", err)
	}
	level, _ := cmd.Flags().GetString("log")
	args := []string{"worker", "--log", level}
	if name != "" {
		args = append(args, "--experiment", name)
	}
	return &core.Subprocess{Command: worker.Command{Path: exe, Args: args}}, nil
}

func (a *app) dispatch(cmd *cobra.Command, sets []*api.Params, del bool, rerun int) error {
	s, err := settings(cmd)
	if err != nil {
		return err
	}
	exec, err := a.executor(cmd, s)
	if err != nil {
		return err
	}
	opts := core.Options{Workers: s.Workers, Delete: del, Rerun: rerun, Executor: exec}
	if s.Journal != "" {
		store, err := journal.Open(s.Journal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		if err := store.Ping(cmd.Context()); err != nil {
			return err
		}
		opts.Journal = store
	}

	report, err := core.Run(cmd.Context(), sets, opts)
	printReport(cmd.OutOrStdout(), report)
	if err != nil {
		return err
	}
	if n := len(report.Crashed()); n > 0 {
		return fmt.Errorf("%d repetitions crashed, see the .stderr reports in their directories", n)
	}
	return nil
}

func printReport(w io.Writer, r core.Report) {
	for _, o := range r.Outcomes {
		if o.Status == api.RunSkipped {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\tfrom %d\t%d iterations\n", o.Name, o.Rep, o.Status, o.Resume, o.Executed)
	}
	st := r.Stats
	fmt.Fprintf(w, "succeeded %d, skipped %d, crashed %d, failed %d\n", st.Succeeded, st.Skipped, st.Crashed, st.Failed)
}

// selectSets keeps the sections named in only, in file order.
func selectSets(sets []*api.Params, only []string) ([]*api.Params, error) {
	if len(only) == 0 {
		return sets, nil
	}
	want := map[string]bool{}
	for _, n := range only {
		want[n] = true
	}
	var out []*api.Params
	for _, p := range sets {
		if want[p.Name()] {
			out = append(out, p)
			delete(want, p.Name())
		}
	}
	if len(want) > 0 {
		var missing []string
		for n := range want {
			missing = append(missing, n)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("no such experiment: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func loadTrees(dirs []string) ([]*api.Params, error) {
	var sets []*api.Params
	for _, d := range dirs {
		s, err := core.LoadTree(d)
		if err != nil {
			return nil, err
		}
		if len(s) == 0 {
			return nil, fmt.Errorf("no experiments below %s", d)
		}
		sets = append(sets, s...)
	}
	return sets, nil
}

// resolve reads experiments from a directory tree or an experiments file,
// expanding the latter the way run would.
func resolve(arg string) ([]*api.Params, error) {
	if fi, err := os.Stat(arg); err == nil && fi.IsDir() {
		return loadTrees([]string{arg})
	}
	sets, err := config.LoadExperiments(arg)
	if err != nil {
		return nil, err
	}
	expansions, err := expand.Batch(sets)
	if err != nil {
		log.Warn().Err(err).Msg("some parameter sets were not expanded")
	}
	return expand.Children(expansions), nil
}
