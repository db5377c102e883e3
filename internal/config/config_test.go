package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  metrics_port: "9090"

logging:
  level: "info"
  format: "json"

breaker:
  failure_threshold: 5
  success_threshold: 2
  timeout: "30s"
  monitoring_window: "60s"
  half_open_max_calls: 3

strategies:
  default_canary_percentages: [10, 25, 50, 100]
  default_stabilization: "60s"
  default_max_unavailable: "25%"
  default_max_surge: "25%"

health:
  default_probe_period: "10s"
  default_sla_target: 0.99

resource_advisor:
  tick_interval: "5m"
  cpu_threshold: 0.8
  memory_threshold: 0.8

shutdown:
  graceful_timeout: "30s"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Server.MetricsPort).To(Equal("9090"))

				Expect(config.Logging.Level).To(Equal("info"))
				Expect(config.Logging.Format).To(Equal("json"))

				Expect(config.Breaker.FailureThreshold).To(Equal(5))
				Expect(config.Breaker.SuccessThreshold).To(Equal(2))
				Expect(config.Breaker.Timeout).To(Equal(30 * time.Second))
				Expect(config.Breaker.MonitoringWindow).To(Equal(60 * time.Second))
				Expect(config.Breaker.HalfOpenMaxCalls).To(Equal(3))

				Expect(config.Strategies.DefaultCanaryPercentages).To(Equal([]int{10, 25, 50, 100}))
				Expect(config.Strategies.DefaultStabilization).To(Equal(60 * time.Second))
				Expect(config.Strategies.DefaultMaxUnavailable).To(Equal("25%"))
				Expect(config.Strategies.DefaultMaxSurge).To(Equal("25%"))

				Expect(config.Health.DefaultProbePeriod).To(Equal(10 * time.Second))
				Expect(config.Health.DefaultSLATarget).To(Equal(0.99))

				Expect(config.ResourceAdvisor.TickInterval).To(Equal(5 * time.Minute))
				Expect(config.ResourceAdvisor.CPUThreshold).To(Equal(0.8))
				Expect(config.ResourceAdvisor.MemoryThreshold).To(Equal(0.8))

				Expect(config.Shutdown.GracefulTimeout).To(Equal(30 * time.Second))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  metrics_port: "3000"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.MetricsPort).To(Equal("3000"))

				Expect(config.Breaker.FailureThreshold).To(Equal(5))
				Expect(config.Breaker.SuccessThreshold).To(Equal(2))
				Expect(config.Strategies.DefaultCanaryPercentages).To(Equal([]int{10, 25, 50, 100}))
				Expect(config.Health.DefaultSLATarget).To(Equal(0.99))
				Expect(config.ResourceAdvisor.CPUThreshold).To(Equal(0.8))
				Expect(config.Shutdown.GracefulTimeout).To(Equal(30 * time.Second))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  metrics_port: "8080"
  invalid_yaml: [
breaker:
  timeout: "test"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config has invalid duration formats", func() {
			BeforeEach(func() {
				invalidDurationConfig := `
server:
  metrics_port: "8080"

breaker:
  timeout: "invalid-duration"

shutdown:
  graceful_timeout: "not-a-duration"
`
				err := os.WriteFile(configFile, []byte(invalidDurationConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Server: ServerConfig{MetricsPort: "9090"},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
				Breaker: BreakerConfig{
					FailureThreshold: 5,
					SuccessThreshold: 2,
					Timeout:          30 * time.Second,
					MonitoringWindow: 60 * time.Second,
					HalfOpenMaxCalls: 3,
				},
				Strategies: StrategiesConfig{
					DefaultCanaryPercentages: []int{10, 25, 50, 100},
					DefaultStabilization:     60 * time.Second,
					DefaultMaxUnavailable:    "25%",
					DefaultMaxSurge:          "25%",
					RetryMaxAttempts:         3,
					RetryBaseDelay:           500 * time.Millisecond,
				},
				Health: HealthConfig{
					DefaultProbePeriod: 10 * time.Second,
					DefaultSLATarget:   0.99,
				},
				ResourceAdvisor: ResourceAdvisorConfig{
					TickInterval:    5 * time.Minute,
					CPUThreshold:    0.8,
					MemoryThreshold: 0.8,
				},
				Shutdown: ShutdownConfig{GracefulTimeout: 30 * time.Second},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when breaker failure threshold is zero", func() {
			BeforeEach(func() {
				config.Breaker.FailureThreshold = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("breaker failure threshold must be greater than 0"))
			})
		})

		Context("when breaker success threshold is zero", func() {
			BeforeEach(func() {
				config.Breaker.SuccessThreshold = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("breaker success threshold must be greater than 0"))
			})
		})

		Context("when canary percentages are empty", func() {
			BeforeEach(func() {
				config.Strategies.DefaultCanaryPercentages = nil
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("default canary percentages must not be empty"))
			})
		})

		Context("when canary percentages are not ascending", func() {
			BeforeEach(func() {
				config.Strategies.DefaultCanaryPercentages = []int{50, 25, 100}
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("default canary percentages must be strictly ascending"))
			})
		})

		Context("when canary percentages exceed 100", func() {
			BeforeEach(func() {
				config.Strategies.DefaultCanaryPercentages = []int{10, 150}
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("default canary percentages must be in (0, 100]"))
			})
		})

		Context("when retry max attempts is zero", func() {
			BeforeEach(func() {
				config.Strategies.RetryMaxAttempts = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("retry max attempts must be greater than 0"))
			})
		})

		Context("when retry base delay is zero", func() {
			BeforeEach(func() {
				config.Strategies.RetryBaseDelay = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("retry base delay must be greater than 0"))
			})
		})

		Context("when health SLA target is out of range", func() {
			BeforeEach(func() {
				config.Health.DefaultSLATarget = 1.5
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("default SLA target must be between 0.0 and 1.0"))
			})
		})

		Context("when resource advisor CPU threshold is out of range", func() {
			BeforeEach(func() {
				config.ResourceAdvisor.CPUThreshold = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("CPU threshold must be between 0.0 and 1.0"))
			})
		})

		Context("when resource advisor tick interval is zero", func() {
			BeforeEach(func() {
				config.ResourceAdvisor.TickInterval = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("tick interval must be greater than 0"))
			})
		})

		Context("when shutdown graceful timeout is zero", func() {
			BeforeEach(func() {
				config.Shutdown.GracefulTimeout = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("graceful timeout must be greater than 0"))
			})
		})
	})

	Describe("loadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{}
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("ORCH_METRICS_PORT", "3000")
				os.Setenv("ORCH_LOG_LEVEL", "debug")
				os.Setenv("ORCH_LOG_FORMAT", "text")
				os.Setenv("ORCH_BREAKER_FAILURE_THRESHOLD", "8")
				os.Setenv("ORCH_SHUTDOWN_TIMEOUT", "45s")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should load values from environment", func() {
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.MetricsPort).To(Equal("3000"))
				Expect(config.Logging.Level).To(Equal("debug"))
				Expect(config.Logging.Format).To(Equal("text"))
				Expect(config.Breaker.FailureThreshold).To(Equal(8))
				Expect(config.Shutdown.GracefulTimeout).To(Equal(45 * time.Second))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				originalConfig := *config
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(*config).To(Equal(originalConfig))
			})
		})
	})
})
