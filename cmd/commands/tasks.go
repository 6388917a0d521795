package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/taskloop/taskloop/internal/gateway"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and cancel tasks on a running gateway",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all tasks",
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task",
				ArgsUsage: "<task_id>",
				Action:    runTasksCancel,
			},
		},
		DefaultCommand: "list",
	}
}

func gatewayURL(cmd *cli.Command, path string) string {
	cfg := loadConfig(cmd)
	return fmt.Sprintf("http://%s:%d%s", cfg.Gateway.Host, cfg.Gateway.Port, path)
}

func apiGet(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	var list []gateway.TaskView
	if err := apiGet(gatewayURL(cmd, "/api/tasks"), &list); err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONTEXT\tSTATE\tPENDING\tCREATED")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			t.TaskID,
			t.ContextID,
			t.State,
			t.Pending,
			t.CreatedAt.Format(time.DateTime),
		)
	}
	return w.Flush()
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: taskloop tasks show <task_id>")
	}

	var t gateway.TaskView
	if err := apiGet(gatewayURL(cmd, "/api/tasks/"+taskID), &t); err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", t.TaskID)
	fmt.Printf("Context:  %s\n", t.ContextID)
	fmt.Printf("State:    %s\n", t.State)
	fmt.Printf("Created:  %s\n", t.CreatedAt.Format(time.DateTime))
	if t.Pending > 0 {
		fmt.Printf("Pending:  %d tool calls\n", t.Pending)
	}

	if len(t.History) > 0 {
		fmt.Println("\nHistory:")
		for _, m := range t.History {
			content := m.Content
			if content == "" && m.ToolResults != "" {
				content = "(tool results)"
			}
			fmt.Printf("  [%s] %s\n", m.Role, content)
		}
	}
	return nil
}

func runTasksCancel(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: taskloop tasks cancel <task_id>")
	}

	resp, err := http.Post(gatewayURL(cmd, "/api/tasks/"+taskID+"/cancel"), "application/json", nil)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Printf("Task %s canceled.\n", taskID)
		return nil
	case http.StatusConflict:
		fmt.Printf("Task %s already finished.\n", taskID)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("task %s not found", taskID)
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
}
