package config

// ConfigCallback distributes the parsed configuration to packages that
// need it before main can pass it around explicitly (e.g. the logger).
type ConfigCallback[T any] struct {
	callbacks []func(T)
	config    *T
}

func (c *ConfigCallback[T]) AddCallback(f func(T)) {
	c.callbacks = append(c.callbacks, f)

	// Call the new callback immediately if the config is already set
	if c.config != nil {
		f(*c.config)
	}
}

func (c *ConfigCallback[T]) Call(config T) {
	for _, f := range c.callbacks {
		f(config)
	}

	c.config = &config
}
