package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"intellibotic/internal/domain/flow"
)

// loadDocument 读取 JSON 或 YAML 流程文件；支持导出信封与旧版格式
func loadDocument(path string) (flow.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return flow.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	if isJSON(path, data) {
		return decodeJSON(data)
	}
	return decodeYAML(data)
}

func isJSON(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return true
	case ".yaml", ".yml":
		return false
	}
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func decodeJSON(data []byte) (flow.Document, error) {
	var envelope struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Config) > 0 {
		data = envelope.Config
	}
	return flow.DecodeDocument(data)
}

func decodeYAML(data []byte) (flow.Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return flow.Document{}, fmt.Errorf("%w: invalid YAML: %v", flow.ErrCorruptGraph, err)
	}
	if raw == nil {
		return flow.Document{}, fmt.Errorf("%w: empty document", flow.ErrCorruptGraph)
	}
	if inner, ok := raw["config"].(map[string]any); ok {
		raw = inner
	}
	if _, ok := raw["flows"]; ok {
		var legacy flow.LegacyDocument
		if err := reencodeYAML(raw, &legacy); err != nil {
			return flow.Document{}, fmt.Errorf("%w: invalid legacy flow: %v", flow.ErrCorruptGraph, err)
		}
		return flow.ImportLegacy(legacy), nil
	}
	return flow.DocumentFromMap(raw)
}

func reencodeYAML(in any, out any) error {
	b, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

// openGraph 加载并重建流程图，fatal 问题以 *flow.CorruptError 返回
func openGraph(path string) (*flow.Graph, error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	return flow.FromPortable(doc)
}
