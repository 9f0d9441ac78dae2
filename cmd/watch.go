package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cmoscardi/textbook-tts/models/models"
	"github.com/cmoscardi/textbook-tts/pkg/httpclient"
	"github.com/cmoscardi/textbook-tts/pkg/jobs"
	"github.com/cmoscardi/textbook-tts/pkg/poll"

	"github.com/spf13/cobra"
)

var (
	watchBaseURL  string
	watchToken    string
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [job_id]",
	Short: "Poll a pipeline job until it finishes.",
	Long:  `Poll a pipeline job until it finishes. SIGCONT forces an immediate refresh.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		watchJob(args[0])
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchBaseURL, "base-url", "http://localhost:3001", "API base URL")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "access token")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "poll interval")
	rootCmd.AddCommand(watchCmd)
}

func watchJob(jobID string) {
	poller := poll.NewPoller(watchInterval, fetchJobView)

	var once sync.Once
	done := make(chan struct{})
	poller.Start(jobID, func(view models.JobView) {
		line := fmt.Sprintf("job %s  %s  %d%%", view.Id, view.Status, view.Completion)
		if view.PartialReady {
			line += "  (partial results available)"
		}
		if view.ErrorDetail != "" {
			line += "  error: " + view.ErrorDetail
		}
		fmt.Println(line)
		if jobs.IsTerminal(view.Status) {
			once.Do(func() { close(done) })
		}
	})

	// foreground regain after a suspend: refresh without waiting for a tick
	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGCONT)
	defer signal.Stop(wake)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-wake:
			poller.Nudge(jobID)
		case <-stop:
			poller.Stop(jobID)
			return
		case <-done:
			return
		}
	}
}

func fetchJobView(ctx context.Context, jobID string) (models.JobView, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", watchBaseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return models.JobView{}, err
	}
	req.Header.Set("access_token", watchToken)
	req.Header.Set("Accept", "application/json")

	resp, err := httpclient.Client.Do(req)
	if err != nil {
		return models.JobView{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.JobView{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Code int            `json:"code"`
		Msg  string         `json:"msg"`
		Data models.JobView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.JobView{}, err
	}
	return body.Data, nil
}
