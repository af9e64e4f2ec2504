// Command verify-producer publishes supervisor verification events. Submission
// IDs are taken from -submissions or read line by line from stdin.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/scout-progress/internal/domain"
)

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "submission-verifications", "Kafka topic")
	verifier := flag.String("verifier", "", "Verifier (supervisor) ID")
	submissions := flag.String("submissions", "", "Submission IDs (comma-separated); stdin when empty")
	rate := flag.Int("rate", 50, "Events per second")
	flag.Parse()

	if *verifier == "" {
		log.Fatal("-verifier is required")
	}
	if *rate <= 0 {
		*rate = 1
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Verification Event Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:   %s\n", *brokers)
	fmt.Printf("  Topic:     %s\n", *topic)
	fmt.Printf("  Verifier:  %s\n", *verifier)
	fmt.Printf("  Rate:      %d/sec\n", *rate)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ids := make(chan string)
	go func() {
		defer close(ids)
		if *submissions != "" {
			for _, id := range strings.Split(*submissions, ",") {
				ids <- strings.TrimSpace(id)
			}
			return
		}
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			ids <- strings.TrimSpace(scanner.Text())
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	finish := func() {
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			finish()
			return

		case id, ok := <-ids:
			if !ok {
				finish()
				return
			}
			if id == "" {
				continue
			}
			<-ticker.C

			ev := domain.VerificationEvent{
				EventID:      uuid.NewString(),
				SubmissionID: id,
				VerifierID:   *verifier,
				VerifiedAt:   time.Now().UTC(),
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("Failed to marshal event: %v", err)
				continue
			}

			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(ev.SubmissionID),
				Value: sarama.ByteEncoder(data),
			}
		}
	}
}
