package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/kafka"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/events"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Publishes a sample quiz submission, or an event.ended trigger with -end.
func main() {
	godotenv.Load()

	eventID := flag.String("event", "event-demo", "event id")
	submitter := flag.String("submitter", "0xdemo", "submitter address")
	end := flag.Bool("end", false, "publish event.ended instead of a submission")
	flag.Parse()

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	producer := kafka.NewProducer(strings.Split(brokers, ","), nil, logger)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *end {
		if err := producer.Publish(ctx, events.TopicEventEnded, *eventID, events.EventEndedEvent{
			EventID:   *eventID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			fmt.Printf("Error writing to Kafka: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("event.ended sent for %s\n", *eventID)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	event := events.SubmissionCreatedEvent{
		Submission: judging.Submission{
			ID:            uuid.New().String(),
			EventID:       *eventID,
			ChallengeID:   "capital-quiz",
			ChallengeType: judging.ChallengeQuiz,
			Submitter:     *submitter,
			Timestamp:     now,
			Content:       map[string]any{"answers": []string{"Paris"}},
			ProofHash:     uuid.New().String(),
			Metadata:      map[string]any{"device": "cli", "timestamp": now, "location": "local"},
			Status:        judging.StatusPendingVerification,
		},
		ChallengeData: &judging.ChallengeData{
			Title:       "Capitals",
			Description: "Name the capital city.",
			Questions: []judging.QuizQuestion{
				{Question: "What is the capital of France?", CorrectAnswer: "Paris", Points: 10},
			},
		},
	}

	if err := producer.Publish(ctx, events.TopicSubmissionCreated, event.ID, event); err != nil {
		fmt.Printf("Error writing to Kafka: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("submission.created sent: submission=%s event=%s\n", event.ID, event.EventID)
}
