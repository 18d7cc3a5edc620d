package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
)

func newTasksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and edit the task log",
	}
	cmd.AddCommand(newTasksListCmd(a))
	cmd.AddCommand(newTasksEnqueueCmd(a))
	cmd.AddCommand(newTasksDeleteCmd(a))
	return cmd
}

type filterFlags struct {
	server  string
	indexes []string
	ids     []int64
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.server, "server", "s", "", "Only tasks of this server")
	cmd.Flags().StringSliceVarP(&f.indexes, "index", "i", nil, "Only tasks of these indexes")
	cmd.Flags().Int64SliceVar(&f.ids, "id", nil, "Only these task ids")
}

func (f *filterFlags) filter() tasks.Filter {
	return tasks.Filter{IDs: f.ids, ServerID: f.server, IndexIDs: f.indexes}
}

func taskTable(list []tasks.Task) table {
	t := table{header: []string{"ID", "SERVER", "TYPE", "INDEX", "CREATED", "DATA"}}
	for _, task := range list {
		t.rows = append(t.rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.ServerID,
			string(task.Type),
			task.IndexID,
			task.CreatedAt.Format("2006-01-02 15:04:05"),
			abbreviate(string(task.Data), 40),
		})
	}
	return t
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newTasksListCmd(a *app) *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued tasks in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.taskManager(cmd.Context())
			if err != nil {
				return err
			}
			list, err := m.List(cmd.Context(), f.filter())
			if err != nil {
				return err
			}
			if list == nil {
				list = []tasks.Task{}
			}
			return render(cmd.OutOrStdout(), a.format, list, taskTable(list))
		},
	}
	f.register(cmd)
	return cmd
}

func newTasksEnqueueCmd(a *app) *cobra.Command {
	var (
		index string
		data  string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <server> <type>",
		Short: "Append a task to the log",
		Long: `Append a task to the log. Valid types: ` + typeList() + `.

Examples:
  searchctl tasks enqueue main addIndex --index articles
  searchctl tasks enqueue main deleteItems --index articles --data '["12","13"]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.taskManager(cmd.Context())
			if err != nil {
				return err
			}
			var payload any
			if data != "" {
				payload = []byte(data)
			}
			task, err := m.Enqueue(cmd.Context(), args[0], tasks.Type(args[1]), index, payload)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.format, task, taskTable([]tasks.Task{task}))
		},
	}
	cmd.Flags().StringVarP(&index, "index", "i", "", "Index the task applies to")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Task payload as JSON")
	return cmd
}

func typeList() string {
	names := make([]string, len(tasks.Types))
	for i, t := range tasks.Types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func newTasksDeleteCmd(a *app) *cobra.Command {
	var (
		f   filterFlags
		all bool
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete tasks matching the filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := f.filter()
			if filter.Empty() && !all {
				return fmt.Errorf("refusing to delete every task without --all")
			}
			m, err := a.taskManager(cmd.Context())
			if err != nil {
				return err
			}
			n, err := m.Delete(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.format, map[string]int64{"deleted": n},
				table{rows: [][]string{{fmt.Sprintf("deleted %d task(s)", n)}}})
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Allow deleting the whole log")
	return cmd
}

func newDrainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drain [server...]",
		Short: "Execute queued tasks of the given servers, or of all servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.taskManager(cmd.Context())
			if err != nil {
				return err
			}
			report, err := m.Drain(cmd.Context(), args...)
			if err != nil {
				return err
			}
			t := table{rows: [][]string{
				{"executed", strconv.Itoa(len(report.Executed))},
				{"skipped", strconv.Itoa(len(report.Skipped))},
				{"purged", strconv.FormatInt(report.Purged, 10)},
				{"failing servers", strings.Join(report.FailingServers, ", ")},
			}}
			if err := render(cmd.OutOrStdout(), a.format, report, t); err != nil {
				return err
			}
			if report.AnyFailed() {
				return fmt.Errorf("servers still failing: %s", strings.Join(report.FailingServers, ", "))
			}
			return nil
		},
	}
}
