package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// 服务商凭证沿用各家惯用的环境变量名
var envBindings = map[string]string{
	"llm.anthropic_key":       "ANTHROPIC_API_KEY",
	"llm.ark_key":             "ARK_API_KEY",
	"llm.gemini_key":          "GEMINI_API_KEY",
	"voice.elevenlabs_key":    "ELEVENLABS_API_KEY",
	"image.stability_key":     "STABILITY_API_KEY",
	"image.pixlr_key":         "PIXLR_API_KEY",
	"image.seedream_key":      "ARK_API_KEY",
	"model3d.meshy_key":       "MESHY_API_KEY",
	"model3d.masterpiece_key": "MASTERPIECEX_API_KEY",
	"storage.redis_addr":      "REDIS_ADDR",
	"storage.dsn":             "DATABASE_DSN",
}

// InitConfig 加载.env、配置文件和环境变量，并初始化日志
func InitConfig(cfgFile string) error {
	// .env不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("加载.env失败")
	}

	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mythweaver")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.mythweaver")
	}

	viper.SetEnvPrefix("MYTHWEAVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for key, env := range envBindings {
		_ = viper.BindEnv(key, "MYTHWEAVER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}

	return InitLogger(viper.GetString("log.level"), viper.GetString("log.file"))
}

// InitLogger 日志同时写到标准输出和日志文件
func InitLogger(level, file string) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if file == "" {
		logrus.SetOutput(os.Stdout)
		return nil
	}
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	logFile, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return nil
}
