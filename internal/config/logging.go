package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, text
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// IsCategoryEnabled reports whether a category should log.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, ok := c.Categories[category]
	return !ok || enabled
}
