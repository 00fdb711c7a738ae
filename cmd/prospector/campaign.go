package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/prospector/internal/db"
	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/repository"
)

// Start and stop only flip the persisted status. A running server picks
// the change up on its next poll or cycle.
var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign management commands",
}

var campaignStartCmd = &cobra.Command{
	Use:   "start [id]",
	Short: "Mark a campaign as running",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignStart,
}

var campaignStopCmd = &cobra.Command{
	Use:   "stop [id]",
	Short: "Pause a running campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignStop,
}

var campaignStatusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show campaign status and link counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignStatus,
}

var campaignListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List the campaigns of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignList,
}

var campaignLogTail int

func init() {
	campaignStatusCmd.Flags().IntVar(&campaignLogTail, "log", 0, "print the last N campaign log lines")

	campaignCmd.AddCommand(campaignListCmd, campaignStartCmd, campaignStopCmd, campaignStatusCmd)
	rootCmd.AddCommand(campaignCmd)
}

func openCampaigns() (*db.DB, *repository.CampaignRepository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return database, repository.NewCampaignRepository(database.DB), nil
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	database, campaigns, err := openCampaigns()
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := campaigns.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No campaigns")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCREATED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Status, c.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runCampaignStart(cmd *cobra.Command, args []string) error {
	return setCampaignStatus(cmd.Context(), args[0], models.CampaignRunning, "-> Campanha iniciada.")
}

func runCampaignStop(cmd *cobra.Command, args []string) error {
	return setCampaignStatus(cmd.Context(), args[0], models.CampaignPaused, "-> Campanha pausada pelo operador.")
}

func setCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, line string) error {
	database, campaigns, err := openCampaigns()
	if err != nil {
		return err
	}
	defer database.Close()

	c, err := campaigns.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", id)
	}
	if c.Status == status {
		fmt.Printf("Campaign %s is already %s\n", id, status)
		return nil
	}
	if status == models.CampaignPaused && !c.Running() {
		return fmt.Errorf("campaign %s is not running (status: %s)", id, c.Status)
	}

	if err := campaigns.AppendLog(ctx, id, line, &status); err != nil {
		return err
	}
	fmt.Printf("Campaign %s: %s -> %s\n", id, c.Status, status)
	return nil
}

func runCampaignStatus(cmd *cobra.Command, args []string) error {
	database, campaigns, err := openCampaigns()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	c, err := campaigns.GetByID(ctx, args[0])
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", args[0])
	}
	stats, err := campaigns.Stats(ctx, c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Campaign: %s (%s)\n", c.Name, c.ID)
	fmt.Printf("Status:   %s\n", c.Status)
	fmt.Printf("Updated:  %s\n", c.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()

	situacoes := make([]models.Situacao, 0, len(stats))
	total := 0
	for s, n := range stats {
		situacoes = append(situacoes, s)
		total += n
	}
	sort.Slice(situacoes, func(i, j int) bool { return situacoes[i] < situacoes[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SITUACAO\tLINKS")
	for _, s := range situacoes {
		fmt.Fprintf(w, "%s\t%d\n", s.Label(), stats[s])
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	w.Flush()

	if campaignLogTail > 0 {
		fmt.Println()
		for _, line := range tailLines(c.Log, campaignLogTail) {
			fmt.Println(line)
		}
	}
	return nil
}

// tailLines returns the last n non-empty lines of s
func tailLines(s string, n int) []string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' })
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
