package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

var Cfg *AppConfig

type AppConfig struct {
	Dev      bool          `yaml:"dev"`
	Api      ApiConfig     `yaml:"api"`
	Redis    Redis         `yaml:"redis"`
	Mysql    MysqlConfig   `yaml:"mysql"`
	Log      LogConfig     `yaml:"log"`
	MLPool   MLPoolConfig  `yaml:"ml_pool"`
	Supabase Supabase      `yaml:"supabase"`
	Billing  BillingConfig `yaml:"billing"`
}

type ApiConfig struct {
	Addr string `yaml:"addr"`
}

type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

type MysqlConfig struct {
	DataSourceName  string `yaml:"data_source_name"`
	MaxIdleCount    int    `yaml:"max_idle_count"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
}

// MLPoolConfig points at the external compute pool (PDF parsing and TTS
// workers). Progress callbacks land on CallbackBaseUrl, authenticated with
// CallbackToken.
type MLPoolConfig struct {
	BaseUrl         string `yaml:"base_url"`
	CallbackBaseUrl string `yaml:"callback_base_url"`
	CallbackToken   string `yaml:"callback_token"`
}

type Supabase struct {
	SupabaseUrl       string `yaml:"supabaseUrl"`
	SupabaseApiKey    string `yaml:"supabaseApiKey"`
	SupabaseSecretKey string `yaml:"supabaseSecretKey"`
	Jwt               string `yaml:"jwt"`
}

type BillingConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

func init() {
	file, err := os.Open("config.yml")
	if err != nil {
		log.Fatalf("Error opening config file: %v", err)
	}
	defer func() {
		err := file.Close()
		if err != nil {
			log.Printf("Error close config file: %v", err)
		}
	}()

	Cfg = &AppConfig{}
	if err := yaml.NewDecoder(file).Decode(Cfg); err != nil {
		log.Fatalf("Error decoding config file: %v", err)
	}

	if Cfg.Api.Addr == "" {
		Cfg.Api.Addr = ":3001"
	}
}
