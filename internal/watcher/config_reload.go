package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
	log "github.com/Aslarex/go-curl2/internal/logging"
)

func (w *Watcher) scheduleConfigReload() {
	w.configReloadMu.Lock()
	defer w.configReloadMu.Unlock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
	}
	w.configReloadTimer = time.AfterFunc(w.debounce, func() {
		w.configReloadMu.Lock()
		w.configReloadTimer = nil
		w.configReloadMu.Unlock()
		w.reloadIfChanged()
	})
}

// stopConfigReloadTimer stops any pending config reload timer.
func (w *Watcher) stopConfigReloadTimer() {
	w.configReloadMu.Lock()
	if w.configReloadTimer != nil {
		w.configReloadTimer.Stop()
		w.configReloadTimer = nil
	}
	w.configReloadMu.Unlock()
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// reloadIfChanged reloads the file unless its content hash is unchanged.
// It reports whether the callback ran.
func (w *Watcher) reloadIfChanged() bool {
	newHash, err := fileHash(w.configPath)
	if err != nil {
		log.Errorf("failed to read config file for hash check: %v", err)
		return false
	}
	if newHash == "" {
		log.Debug("ignoring empty config file write event")
		return false
	}

	w.stateMu.RLock()
	currentHash := w.lastConfigHash
	oldConfig := w.config
	w.stateMu.RUnlock()
	if currentHash == newHash {
		log.Debug("config file content unchanged (hash match), skipping reload")
		return false
	}

	newConfig, errLoad := config.LoadConfig(w.configPath)
	if errLoad != nil {
		log.Errorf("failed to reload config: %v", errLoad)
		return false
	}
	newConfig.ApplyEnv()

	log.SetDebug(newConfig.Debug)
	if oldConfig != nil {
		for _, d := range configChangeDetails(oldConfig, newConfig) {
			log.Debugf("config change: %s", d)
		}
	}

	w.stateMu.Lock()
	w.config = newConfig
	w.lastConfigHash = newHash
	w.stateMu.Unlock()

	log.Infof("config reloaded from %s", w.configPath)
	if w.reloadCallback != nil {
		w.reloadCallback(newConfig)
	}
	return true
}

// configChangeDetails lists the top-level settings that differ. Secrets are
// reported as changed without their values.
func configChangeDetails(oldCfg, newCfg *config.Config) []string {
	var details []string
	add := func(name string, before, after any) {
		if !reflect.DeepEqual(before, after) {
			details = append(details, fmt.Sprintf("%s: %v -> %v", name, before, after))
		}
	}
	add("curl-binary", oldCfg.CurlBinary, newCfg.CurlBinary)
	add("debug", oldCfg.Debug, newCfg.Debug)
	add("max-concurrency", oldCfg.MaxConcurrency, newCfg.MaxConcurrency)
	add("max-body-size", oldCfg.MaxBodySize, newCfg.MaxBodySize)
	add("cache.backend", oldCfg.Cache.Backend, newCfg.Cache.Backend)
	add("cache.enabled", oldCfg.Cache.Enabled, newCfg.Cache.Enabled)
	add("cache.ttl", oldCfg.Cache.TTL, newCfg.Cache.TTL)
	add("dns.servers", oldCfg.DNS.Servers, newCfg.DNS.Servers)
	add("defaults.timeout", oldCfg.Defaults.Timeout, newCfg.Defaults.Timeout)
	add("defaults.http-version", oldCfg.Defaults.HTTPVersion, newCfg.Defaults.HTTPVersion)
	add("defaults.tls-versions", oldCfg.Defaults.TLSVersions, newCfg.Defaults.TLSVersions)
	if oldCfg.Defaults.ProxyURL != newCfg.Defaults.ProxyURL {
		details = append(details, "defaults.proxy-url: changed")
	}
	if !reflect.DeepEqual(oldCfg.Server.APIKeys, newCfg.Server.APIKeys) {
		details = append(details, fmt.Sprintf("server.api-keys: %d -> %d keys", len(oldCfg.Server.APIKeys), len(newCfg.Server.APIKeys)))
	}
	return details
}
