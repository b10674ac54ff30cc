package util_test

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/agubarev/bolt/pkg/util"
	"github.com/stretchr/testify/assert"
)

func TestPrettyPrint(t *testing.T) {
	a := assert.New(t)

	var buf bytes.Buffer
	a.NoError(util.PrettyPrint(&buf, false, map[string]interface{}{"uid": "abc123"}))
	a.Equal("{\n  \"uid\": \"abc123\"\n}\n", buf.String())
}

func TestDefaultLogger(t *testing.T) {
	a := assert.New(t)

	logger, err := util.DefaultLogger(true, "")
	a.NoError(err)
	a.NotNil(logger)

	dir, err := ioutil.TempDir("", "bolt-logs")
	a.NoError(err)
	defer os.RemoveAll(dir)

	logDir := filepath.Join(dir, "nested")
	logger, err = util.DefaultLogger(false, logDir)
	a.NoError(err)
	a.NotNil(logger)

	logger.Info("hello")
	logger.Error("failure")
	_ = logger.Sync()

	a.True(util.Exists(filepath.Join(logDir, "standard.log")))
	a.True(util.Exists(filepath.Join(logDir, "errors.log")))
}
