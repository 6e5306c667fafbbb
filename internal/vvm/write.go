package vvm

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Spec 描述要打包的模型。
type Spec struct {
	ID             uuid.UUID
	Kind           string
	Metas          []SpeakerMeta
	Params         []byte
	ParamsFilename string
	Files          map[string][]byte
	InnerVoices    map[uint32]int
	FormatVersion  int
}

// Write 把模型打包为容器文件。先写临时文件再重命名。
func Write(path string, spec Spec) error {
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}
	if spec.FormatVersion == 0 {
		spec.FormatVersion = FormatVersion
	}
	if spec.ParamsFilename == "" {
		spec.ParamsFilename = defaultParams
	}

	mapping := make(map[string]int, len(spec.InnerVoices))
	for style, v := range spec.InnerVoices {
		mapping[strconv.FormatUint(uint64(style), 10)] = v
	}
	names := make([]string, 0, len(spec.Files))
	for name := range spec.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	manifest, err := api.MarshalIndent(Manifest{
		FormatVersion: spec.FormatVersion,
		ID:            spec.ID.String(),
		MetasFilename: defaultMetas,
		Talk: &TalkManifest{
			Kind:                  spec.Kind,
			ParamsFilename:        spec.ParamsFilename,
			Files:                 names,
			StyleIDToInnerVoiceID: mapping,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("编码清单失败: %w", err)
	}
	metas, err := api.MarshalIndent(spec.Metas, "", "  ")
	if err != nil {
		return fmt.Errorf("编码元数据失败: %w", err)
	}

	entries := []struct {
		name string
		data []byte
	}{
		{ManifestName, manifest},
		{defaultMetas, metas},
		{spec.ParamsFilename, spec.Params},
	}
	for _, name := range names {
		entries = append(entries, struct {
			name string
			data []byte
		}{name, spec.Files[name]})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vvm-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("写入条目 %s 失败: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			tmp.Close()
			return fmt.Errorf("写入条目 %s 失败: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("关闭 zip 失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("重命名模型文件失败: %w", err)
	}
	return nil
}

// ParseMetas 解析 metas.json 格式的说话人元数据。
func ParseMetas(data []byte) ([]SpeakerMeta, error) {
	var metas []SpeakerMeta
	if err := api.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("解析说话人元数据失败: %w", err)
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("说话人元数据为空")
	}
	return metas, nil
}

// SequentialInnerVoices 按元数据中风格出现的顺序依次分配内部声音 0, 1, 2...
func SequentialInnerVoices(metas []SpeakerMeta) map[uint32]int {
	out := make(map[uint32]int)
	for _, sp := range metas {
		for _, st := range sp.Styles {
			if _, ok := out[st.ID]; !ok {
				out[st.ID] = len(out)
			}
		}
	}
	return out
}
