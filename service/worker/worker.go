package worker

import (
	"fmt"
	"log"

	"github.com/cmoscardi/textbook-tts/config"
	"github.com/cmoscardi/textbook-tts/pkg/tasks"

	"github.com/hibiken/asynq"
)

func Run() {
	log.Println("Starting the pipeline queue processor...")

	go tasks.Stats()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: fmt.Sprintf("%s:%d", config.Cfg.Redis.Host, config.Cfg.Redis.Port), Password: config.Cfg.Redis.Password},
		asynq.Config{
			// Specify how many concurrent workers to use
			Concurrency: 10,
			// Parsing is the user-facing wait; give it the larger share.
			Queues: map[string]int{
				tasks.QueueParse:   6,
				tasks.QueueConvert: 4,
			},
		},
	)

	// mux maps a task type to a handler
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.PipelineParse, tasks.HandleParseTask)
	mux.HandleFunc(tasks.PipelineConvert, tasks.HandleConvertTask)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
