package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ankit-kulkarni/einhornd/internal/socketprep"
)

func validConfig() *Config {
	return &Config{
		Program:    "/bin/true",
		Count:      1,
		Retries:    DefaultRetries,
		Binds:      []socketprep.BindSpec{{Host: "127.0.0.1", Port: "8080"}},
		SocketPath: DefaultSocketPath,
	}
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsEmptyProgram(t *testing.T) {
	c := validConfig()
	c.Program = ""
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNegativeCount(t *testing.T) {
	c := validConfig()
	c.Count = -1
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNegativeRetries(t *testing.T) {
	c := validConfig()
	c.Retries = -1
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNoBinds(t *testing.T) {
	c := validConfig()
	c.Binds = nil
	assert.Error(t, c.Validate())
}

func TestValidateRejectsEmptySocketPath(t *testing.T) {
	c := validConfig()
	c.SocketPath = ""
	assert.Error(t, c.Validate())
}
