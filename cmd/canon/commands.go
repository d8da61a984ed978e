package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/canon/internal/api"
	"github.com/kalambet/canon/internal/config"
	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/queue"
)

// --- create ---

// waitPoll is how often create --wait polls job status.
var waitPoll = time.Second

var createCmd = &cobra.Command{
	Use:   "create <type>",
	Short: "Queue generation of a world, character, culture or technology",
	Long: `Queue generation of new content.

Examples:
  canon create world
  canon create character --universe u_lx2k9a3f1b
  canon create technology --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := content.ParseType(args[0])
		if err != nil {
			return err
		}
		universeID, _ := cmd.Flags().GetString("universe")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/content/create", api.CreateContentRequest{
			Type:       string(t),
			UniverseID: universeID,
		})
		if err != nil {
			return err
		}

		var created api.CreateContentResponse
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Queued %s generation as %s", t, created.JobID)

		if !wait {
			fmt.Fprintln(cmd.OutOrStdout(), created.JobID)
			return nil
		}

		st, err := waitForJob(cmd.Context(), client, created.JobID)
		if err != nil {
			return err
		}
		return printJobStatus(cmd.OutOrStdout(), st)
	},
}

func init() {
	createCmd.Flags().String("universe", "", "universe id to generate into")
	createCmd.Flags().Bool("wait", false, "wait for the job to finish and print its result")
}

func fetchJob(ctx context.Context, client *apiClient, id string) (*queue.Status, error) {
	resp, err := client.get(ctx, "/job/"+url.PathEscape(id)+"/status")
	if err != nil {
		return nil, err
	}
	var st queue.Status
	if err := decodeJSON(resp, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func waitForJob(ctx context.Context, client *apiClient, id string) (*queue.Status, error) {
	lastStage := ""
	for {
		st, err := fetchJob(ctx, client, id)
		if err != nil {
			return nil, err
		}
		if st.Status == queue.Completed || st.Status == queue.Failed {
			return st, nil
		}
		if st.Stage != "" && st.Stage != lastStage {
			printStep("%s (%d%%)", st.Stage, st.Progress)
			lastStage = st.Stage
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitPoll):
		}
	}
}

func printJobStatus(w io.Writer, st *queue.Status) error {
	printStatus(w, "Job", "%s", st.JobID)
	printStatus(w, "Status", "%s", colorize(stateColor(st.Status), st.Status))
	printStatus(w, "Type", "%s", st.Data.Type)
	if st.Data.UniverseID != "" {
		printStatus(w, "Universe", "%s", st.Data.UniverseID)
	}
	printStatus(w, "Progress", "%d%%", st.Progress)
	printStatus(w, "Attempts", "%d", st.Attempts)
	if st.Result != nil {
		printStatus(w, "Entity", "%s (%s)", st.Result.Name, st.Result.EntityID)
	}
	if st.Error != "" {
		printStatus(w, "Error", "%s", colorize(colorRed, st.Error))
	}
	if st.Status == queue.Failed {
		return fmt.Errorf("job %s failed", st.JobID)
	}
	return nil
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the status of a build job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := fetchJob(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printJobStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	jobCmd.Flags().Bool("json", false, "print the raw status JSON")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show build job counts per state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/queue/stats")
		if err != nil {
			return err
		}
		var stats queue.Stats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		printStatus(w, "Waiting", "%d", stats.Waiting)
		printStatus(w, "Active", "%d", stats.Active)
		printStatus(w, "Completed", "%d", stats.Completed)
		printStatus(w, "Failed", "%d", stats.Failed)
		printStatus(w, "Total", "%d", stats.Total)
		return nil
	},
}

// --- universe ---

type universeList struct {
	Data  []content.Universe `json:"data"`
	Count int                `json:"count"`
}

type entityList struct {
	Data  []content.Entity `json:"data"`
	Count int              `json:"count"`
}

var universeCmd = &cobra.Command{
	Use:   "universe",
	Short: "Manage universes and browse their entities",
}

var universeCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a universe",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/universes", api.CreateUniverseRequest{
			Name:        strings.Join(args, " "),
			Description: desc,
		})
		if err != nil {
			return err
		}

		var u content.Universe
		if err := decodeJSON(resp, &u); err != nil {
			return err
		}
		printSuccess("Created universe %s", u.Name)
		fmt.Fprintln(cmd.OutOrStdout(), u.ID)
		return nil
	},
}

var universeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List universes, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/universes")
		if err != nil {
			return err
		}
		var list universeList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if list.Count == 0 {
			fmt.Fprintln(w, "No universes found.")
			return nil
		}
		for _, u := range list.Data {
			fmt.Fprintf(w, "%s  %s  %s\n",
				colorize(colorCyan, u.ID),
				u.CreatedAt.Format(time.DateOnly),
				u.Name,
			)
		}
		return nil
	},
}

var universeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a universe as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/universes/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var u content.Universe
		if err := decodeJSON(resp, &u); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), u)
	},
}

var universeEntitiesCmd = &cobra.Command{
	Use:   "entities <id>",
	Short: "List the entities generated in a universe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")

		path := "/universes/" + url.PathEscape(args[0]) + "/entities"
		if typ != "" {
			t, err := content.ParseType(typ)
			if err != nil {
				return err
			}
			path += "?type=" + url.QueryEscape(string(t))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var list entityList
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if list.Count == 0 {
			fmt.Fprintln(w, "No entities found.")
			return nil
		}
		for _, e := range list.Data {
			fmt.Fprintf(w, "%s  %-10s  %s\n", colorize(colorCyan, e.ID), e.Type, e.Name)
		}
		return nil
	},
}

var entityCmd = &cobra.Command{
	Use:   "entity <id>",
	Short: "Show a generated entity as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/entities/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var e content.Entity
		if err := decodeJSON(resp, &e); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), e)
	},
}

func init() {
	universeCreateCmd.Flags().String("description", "", "universe description")
	universeEntitiesCmd.Flags().String("type", "", "only list entities of this type")
	universeCmd.AddCommand(universeCreateCmd)
	universeCmd.AddCommand(universeListCmd)
	universeCmd.AddCommand(universeShowCmd)
	universeCmd.AddCommand(universeEntitiesCmd)
	universeCmd.AddCommand(entityCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
