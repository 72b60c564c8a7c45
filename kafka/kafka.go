package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/IBM/sarama"

	"github.com/Breeze1203/shophub-support/config"
)

const (
	MechanismPlain       = "PLAIN"
	MechanismSCRAMSHA256 = "SCRAM-SHA-256"
	MechanismSCRAMSHA512 = "SCRAM-SHA-512"
)

func NewSaramaConfig(cfg *config.KafkaConfig) (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0

	// 生产者配置：同一房间的事件落到同一分区，保证房间内顺序
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Interceptors = []sarama.ProducerInterceptor{NewEventInterceptor(instanceName())}

	// 消费者配置：推送只关心新事件，历史由轮询补齐
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	// 认证配置
	if cfg.Username != "" && cfg.Password != "" {
		if err := applySASL(config, cfg); err != nil {
			return nil, err
		}
	}

	// TLS 配置
	if cfg.UseTLS {
		tlsConfig, err := createTLSConfig(cfg.CertFile, cfg.KeyFile, cfg.CAFile)
		if err != nil {
			return nil, err
		}
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = tlsConfig
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("kafka config: %w", err)
	}
	return config, nil
}

// 创建TLS配置
func createTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// 加载CA证书
	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, err
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("kafka: no certificates found in CA file")
		}
		tlsConfig.RootCAs = caCertPool
	}

	// 加载客户端证书
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "support"
	}
	return host
}
