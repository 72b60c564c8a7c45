package kafka

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/Breeze1203/shophub-support/config"
)

// applySASL PLAIN 或 SCRAM 认证
func applySASL(config *sarama.Config, cfg *config.KafkaConfig) error {
	config.Net.SASL.Enable = true
	config.Net.SASL.User = cfg.Username
	config.Net.SASL.Password = cfg.Password
	config.Net.SASL.Handshake = true

	switch strings.ToUpper(cfg.Mechanism) {
	case "", MechanismPlain:
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case MechanismSCRAMSHA256:
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
		}
	case MechanismSCRAMSHA512:
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
		}
	default:
		return fmt.Errorf("kafka: unsupported SASL mechanism %q", cfg.Mechanism)
	}
	return nil
}

// SCRAM客户端实现
var (
	SHA256 scram.HashGeneratorFcn = scram.SHA256
	SHA512 scram.HashGeneratorFcn = scram.SHA512
)

type XDGSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *XDGSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *XDGSCRAMClient) Step(challenge string) (response string, err error) {
	response, err = x.ClientConversation.Step(challenge)
	return
}

func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
