package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

// Ensure implementation satisfies interface at compile time.
var _ sarama.SCRAMClient = (*scramClient)(nil)

// scramClient adapts an xdg-go/scram conversation to sarama.SCRAMClient.
type scramClient struct {
	hashGen      scram.HashGeneratorFcn
	conversation *scram.ClientConversation
}

// Begin prepares a new conversation for the given credentials.
func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashGen.NewClient(userName, password, authzID)
	if err != nil {
		return fmt.Errorf("failed to create scram client: %w", err)
	}
	c.conversation = client.NewConversation()
	return nil
}

// Step answers one server challenge.
func (c *scramClient) Step(challenge string) (string, error) {
	return c.conversation.Step(challenge)
}

// Done reports whether the exchange has finished.
func (c *scramClient) Done() bool {
	return c.conversation != nil && c.conversation.Done()
}

// scramGenerator returns the sarama client factory and mechanism for a
// SCRAM variant.
func scramGenerator(mechanism string) (func() sarama.SCRAMClient, sarama.SASLMechanism, error) {
	var hashGen scram.HashGeneratorFcn
	var saslMechanism sarama.SASLMechanism

	switch mechanism {
	case "SCRAM-SHA-256":
		hashGen = sha256.New
		saslMechanism = sarama.SASLTypeSCRAMSHA256
	case "SCRAM-SHA-512":
		hashGen = sha512.New
		saslMechanism = sarama.SASLTypeSCRAMSHA512
	default:
		return nil, "", fmt.Errorf("unsupported SCRAM mechanism: %s", mechanism)
	}

	return func() sarama.SCRAMClient {
		return &scramClient{hashGen: hashGen}
	}, saslMechanism, nil
}
