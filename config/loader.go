// =============================================================================
// 📦 ProvisionFlow 配置加载器
// =============================================================================
// 配置来源按顺序叠加: 默认值 → YAML 文件 → .env 文件 → 进程环境变量
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithDotEnv(".env").
//	    Load()
//
// 环境变量名由前缀和字段 env tag 逐层拼接，例如 PROVISIONFLOW_RETRY_MAX_RETRIES。
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "PROVISIONFLOW"

// Loader 配置加载器
type Loader struct {
	configPath string
	dotEnvPath string
	envPrefix  string
	validators []func(*Config) error
	lookupEnv  func(string) (string, bool)
}

// NewLoader 创建使用默认前缀和进程环境的加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix, lookupEnv: os.LookupEnv}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时沿用默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithDotEnv 设置 .env 文件路径；进程环境变量优先于文件中的值
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加在内置校验之后执行的校验器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 依次叠加各配置来源并校验结果
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	stages := []struct {
		name string
		run  func(*Config) error
	}{
		{"read config file", l.applyFile},
		{"apply environment", l.applyEnv},
		{"validate config", l.validate},
	}
	for _, stage := range stages {
		if err := stage.run(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", stage.name, err)
		}
	}
	return cfg, nil
}

func (l *Loader) applyFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (l *Loader) applyEnv(cfg *Config) error {
	lookup, err := l.envSource()
	if err != nil {
		return err
	}
	for _, f := range envFields(reflect.ValueOf(cfg).Elem(), l.envPrefix) {
		raw, ok := lookup(f.key)
		if !ok || raw == "" {
			continue
		}
		if err := decodeEnv(f.value, raw); err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	errs := []error{cfg.Validate()}
	for _, v := range l.validators {
		errs = append(errs, v(cfg))
	}
	return errors.Join(errs...)
}

// envSource 合并 .env 内容与进程环境，进程环境优先
func (l *Loader) envSource() (func(string) (string, bool), error) {
	if l.dotEnvPath == "" {
		return l.lookupEnv, nil
	}
	fileValues, err := godotenv.Read(l.dotEnvPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l.lookupEnv, nil
	case err != nil:
		return nil, fmt.Errorf("dotenv %s: %w", l.dotEnvPath, err)
	}
	return func(key string) (string, bool) {
		if v, ok := l.lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	}, nil
}

// envField 一个可由环境变量覆盖的叶子字段
type envField struct {
	key   string
	value reflect.Value
}

// envFields 展开带 env tag 的字段，嵌套结构体以 "_" 拼接前缀
func envFields(v reflect.Value, prefix string) []envField {
	var out []envField
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			out = append(out, envFields(field, key)...)
			continue
		}
		if field.CanSet() {
			out = append(out, envField{key: key, value: field})
		}
	}
	return out
}

var durationType = reflect.TypeFor[time.Duration]()

// decodeEnv 按字段类型解析字符串；切片只支持逗号分隔的 []string
func decodeEnv(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err == nil {
			field.SetInt(int64(d))
		}
		return err
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// MustLoad 从 path 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}
