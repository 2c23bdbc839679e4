package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"dataforge/internal/model"
	"dataforge/internal/repository"
)

// RecordPersistWorker drains the record queue and turns each batch into
// training-record rows. Persistence failures nack without requeue so a
// poisoned batch cannot wedge the queue.
type RecordPersistWorker struct {
	conn      *amqp.Connection
	repo      *repository.RecordRepository
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRecordPersistWorker(conn *amqp.Connection, repo *repository.RecordRepository, queueName string) *RecordPersistWorker {
	return &RecordPersistWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
	}
}

func (w *RecordPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var batch model.RecordBatch
				if err := json.Unmarshal(d.Body, &batch); err != nil {
					log.Printf("worker decode record batch failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				rows := make([]model.TrainingRecord, len(batch.Records))
				for i, rec := range batch.Records {
					rows[i] = model.TrainingRecord{
						BatchProjectID: batch.BatchProjectID,
						OwnerID:        batch.OwnerID,
						SourceDocument: batch.SourceDocument,
						ChunkIndex:     rec.ChunkIndex,
						Label:          rec.Label,
						Text:           rec.Text,
					}
				}

				if err := w.repo.CreateBatch(rows); err != nil {
					log.Printf("worker persist record batch failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *RecordPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
