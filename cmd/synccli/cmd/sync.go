package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// syncCmd groups the job-submission and job-management subcommands.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Submit and manage sync jobs",
}

func init() {
	syncCmd.AddCommand(syncFullCmd, syncIncrementalCmd, syncStatusCmd, syncCancelCmd)

	for _, c := range []*cobra.Command{syncFullCmd, syncIncrementalCmd} {
		c.Flags().String("tenant", "", "tenant ID to sync (required)")
		c.Flags().StringSlice("entity-types", nil, "entity types to sync (default: all)")
		c.Flags().Int("batch-size", 0, "override the configured batch size")
	}
	syncIncrementalCmd.Flags().String("since", "", "RFC3339 watermark to sync from (default: the stored watermark)")
}

type submitJobRequest struct {
	TenantID    string   `json:"tenant_id"`
	EntityTypes []string `json:"entity_types,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
	Since       string   `json:"since,omitempty"`
}

type submitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

var syncFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Submit a full sync job",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitJob(cmd, "/sync/full")
	},
}

var syncIncrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Submit an incremental sync job",
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitJob(cmd, "/sync/incremental")
	},
}

func submitJob(cmd *cobra.Command, path string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		return fmt.Errorf("--tenant is required")
	}
	entityTypes, _ := cmd.Flags().GetStringSlice("entity-types")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	since, _ := cmd.Flags().GetString("since")

	req := submitJobRequest{
		TenantID:    tenant,
		EntityTypes: entityTypes,
		BatchSize:   batchSize,
		Since:       since,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := httpClient.Post(serverAddr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit job: %s", formatErrorBody(resp))
	}

	var out submitJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("job submitted: %s (status: %s)\n", out.JobID, out.Status)
	return nil
}

var syncStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a sync job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := httpClient.Get(serverAddr + "/sync/status/" + args[0])
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("get status: %s", formatErrorBody(resp))
		}

		var pretty bytes.Buffer
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Println(pretty.String())
		return nil
	},
}

type cancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running or pending sync job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := httpClient.Post(serverAddr+"/sync/cancel/"+args[0], "application/json", nil)
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("cancel job: %s", formatErrorBody(resp))
		}

		var out cancelJobResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}

		fmt.Printf("job %s cancellation requested (status: %s)\n", out.JobID, out.Status)
		return nil
	},
}

func formatErrorBody(resp *http.Response) string {
	raw, err := io.ReadAll(resp.Body)
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, string(raw))
}
