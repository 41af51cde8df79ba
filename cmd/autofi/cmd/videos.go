package cmd

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/autofi/pkg/api"
	"github.com/psantana5/autofi/pkg/models"
)

const followInterval = 2 * time.Second

var (
	submitURL         string
	submitFile        string
	submitContentType string
	submitWait        bool

	followStatus bool

	listPage  int
	listLimit int
)

var videosCmd = &cobra.Command{
	Use:     "videos",
	Aliases: []string{"jobs"},
	Short:   "Submit and inspect optimization jobs",
}

var videosSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a YouTube URL or a local media file",
	Long: `Submit a video for optimization. With --file the media is first uploaded
to object storage through a presigned URL, then submitted by storage key.`,
	Example: `  autofi videos submit --url https://www.youtube.com/watch?v=dQw4w9WgXcQ
  autofi videos submit --file ./episode-12.mp4 --wait`,
	RunE: runVideosSubmit,
}

var videosStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job and its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runVideosStatus,
}

var videosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your jobs, newest first",
	RunE:  runVideosList,
}

var videosCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel an unfinished job",
	Args:  cobra.ExactArgs(1),
	RunE:  runVideosCancel,
}

func init() {
	rootCmd.AddCommand(videosCmd)
	videosCmd.AddCommand(videosSubmitCmd, videosStatusCmd, videosListCmd, videosCancelCmd)

	videosSubmitCmd.Flags().StringVar(&submitURL, "url", "", "YouTube video URL")
	videosSubmitCmd.Flags().StringVar(&submitFile, "file", "", "local media file to upload")
	videosSubmitCmd.Flags().StringVar(&submitContentType, "content-type", "", "media type of --file (default from extension)")
	videosSubmitCmd.Flags().BoolVar(&submitWait, "wait", false, "follow the job until it finishes")
	videosSubmitCmd.MarkFlagsMutuallyExclusive("url", "file")
	videosSubmitCmd.MarkFlagsOneRequired("url", "file")

	videosStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll every 2 seconds until the job finishes")

	videosListCmd.Flags().IntVar(&listPage, "page", 1, "page number, starting at 1")
	videosListCmd.Flags().IntVar(&listLimit, "limit", 20, "jobs per page (max 100)")
}

func runVideosSubmit(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	req := models.SubmitRequest{YouTubeURL: submitURL}
	if submitFile != "" {
		key, err := uploadFile(ctx, client, submitFile, submitContentType)
		if err != nil {
			return err
		}
		req = models.SubmitRequest{StorageKey: key, Filename: filepath.Base(submitFile)}
	}

	var resp api.SubmitResponse
	if err := client.do(ctx, "POST", "/api/v1/videos", req, &resp, 202); err != nil {
		return err
	}

	if !submitWait {
		if IsJSONOutput() {
			return printJSON(resp)
		}
		fmt.Printf("Job submitted: %s (%s)\n", resp.ID, resp.Status)
		fmt.Printf("Follow it with: autofi videos status %s --follow\n", resp.ID)
		return nil
	}
	return followJob(ctx, client, resp.ID)
}

// uploadFile presigns a PUT, streams the file to it and returns the key
func uploadFile(ctx context.Context, client *apiClient, path, contentType string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}

	var up api.UploadResponse
	err := client.do(ctx, "POST", "/api/v1/uploads", api.UploadRequest{
		Filename:    filepath.Base(path),
		ContentType: contentType,
	}, &up, 201)
	if err != nil {
		return "", fmt.Errorf("failed to create upload: %w", err)
	}

	if !IsJSONOutput() {
		fmt.Printf("Uploading %s...\n", filepath.Base(path))
	}
	if err := client.putFile(ctx, up.UploadURL, path, contentType); err != nil {
		return "", err
	}
	return up.StorageKey, nil
}

func runVideosStatus(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if followStatus {
		return followJob(cmd.Context(), client, args[0])
	}

	job, err := fetchJob(cmd.Context(), client, args[0])
	if err != nil {
		return err
	}
	return displayJob(job)
}

func fetchJob(ctx context.Context, client *apiClient, id string) (*models.Job, error) {
	var job models.Job
	if err := client.do(ctx, "GET", "/api/v1/videos/"+id, nil, &job, 200); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, fmt.Errorf("job %s not found", id)
		}
		return nil, err
	}
	return &job, nil
}

// followJob polls until the job reaches COMPLETED or FAILED
func followJob(ctx context.Context, client *apiClient, id string) error {
	if !IsJSONOutput() {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", id)
	}
	last := models.JobStatus("")
	for {
		job, err := fetchJob(ctx, client, id)
		if err != nil {
			return err
		}
		if models.IsTerminalState(job.Status) {
			return displayJob(job)
		}
		if job.Status != last && !IsJSONOutput() {
			fmt.Printf("%s  %-13s %3d%%\n", time.Now().Format("15:04:05"), job.Status, job.Progress)
			last = job.Status
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(followInterval):
		}
	}
}

func displayJob(job *models.Job) error {
	if IsJSONOutput() {
		return printJSON(job)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", job.ID)
	table.Append("Source", describeSource(job.Source))
	table.Append("Status", string(job.Status))
	table.Append("Progress", fmt.Sprintf("%d%%", job.Progress))
	if job.OriginalTitle != "" {
		table.Append("Original Title", job.OriginalTitle)
	}
	if len(job.Keywords) > 0 {
		table.Append("Keywords", strings.Join(job.Keywords, ", "))
	}
	if len(job.SuggestedTags) > 0 {
		table.Append("Tags", strings.Join(job.SuggestedTags, ", "))
	}
	if job.Analytics != nil {
		a := job.Analytics
		table.Append("Virality", fmt.Sprintf("%.0f", a.ViralityScore))
		table.Append("SEO", fmt.Sprintf("%.0f", a.SEOScore))
		table.Append("Engagement", fmt.Sprintf("%.0f", a.EngagementPrediction))
		table.Append("Views (7d)", a.Predictions.Views7d)
	}
	if job.Degraded {
		table.Append("Warnings", strings.Join(job.Warnings, "; "))
	}
	if job.ErrorMessage != "" {
		table.Append("Error", job.ErrorMessage)
	}
	table.Append("Created", job.CreatedAt.Local().Format(time.RFC3339))
	table.Render()

	if len(job.SuggestedTitles) > 0 {
		fmt.Println("\nSuggested titles:")
		titles := tablewriter.NewWriter(os.Stdout)
		titles.Header("Score", "Title")
		for _, t := range job.SuggestedTitles {
			titles.Append(fmt.Sprintf("%.0f", t.Score), t.Title)
		}
		titles.Render()
	}
	if len(job.SuggestedDescriptions) > 0 {
		fmt.Printf("\nTop description (score %.0f):\n%s\n",
			job.SuggestedDescriptions[0].Score, job.SuggestedDescriptions[0].Description)
	}
	return nil
}

func runVideosList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var resp api.ListResponse
	path := fmt.Sprintf("/api/v1/videos?page=%d&limit=%d", listPage, listLimit)
	if err := client.do(cmd.Context(), "GET", path, nil, &resp, 200); err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Source", "Status", "Progress", "Top Title", "Created")
	for _, v := range resp.Videos {
		status := string(v.Status)
		if v.Degraded {
			status += " (degraded)"
		}
		top := v.TopTitle
		if top == "" {
			top = "-"
		}
		table.Append(
			v.ID,
			describeSource(v.Source),
			status,
			fmt.Sprintf("%d%%", v.Progress),
			top,
			v.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	table.Render()
	fmt.Printf("\nPage %d, %d jobs\n", resp.Page, len(resp.Videos))
	return nil
}

func runVideosCancel(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var resp api.SubmitResponse
	err = client.do(cmd.Context(), "POST", "/api/v1/videos/"+args[0]+"/cancel", nil, &resp, 202)
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == 409 {
		return fmt.Errorf("job %s has already finished", args[0])
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(resp)
	}
	fmt.Printf("Cancellation requested for %s (status %s)\n", resp.ID, resp.Status)
	return nil
}

func describeSource(src models.Source) string {
	switch src.Kind {
	case models.SourceYouTube:
		return "youtube:" + src.VideoID
	case models.SourceUpload:
		if src.Filename != "" {
			return "upload:" + src.Filename
		}
		return "upload"
	default:
		return string(src.Kind)
	}
}
