package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

func RetryQueue(queue string) string { return queue + ".retry" }
func DLQ(queue string) string        { return queue + ".dlq" }

// DeclareTopology declares the main queue and its retry and dead-letter
// queues. Publisher and worker must declare with identical arguments.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := DLQ(queue)

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}
