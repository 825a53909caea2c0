package camera

import (
	"fmt"
	"sort"
	"sync"
)

// StackConfig はスタック作成設定
type StackConfig struct {
	Name       string         // スタック名
	Properties map[string]any // ベンダー固有のプロパティ
}

// StackCreator はスタック作成関数の型
type StackCreator func(config StackConfig) (Stack, error)

var (
	stackMu       sync.RWMutex
	stackCreators = map[string]StackCreator{
		"none": func(StackConfig) (Stack, error) { return NewNullStack(), nil },
	}
)

// RegisterStack はスタック作成関数を登録する
func RegisterStack(name string, creator StackCreator) {
	stackMu.Lock()
	defer stackMu.Unlock()
	stackCreators[name] = creator
}

// CreateStack は登録済みの作成関数でスタックを作成する
func CreateStack(config StackConfig) (Stack, error) {
	stackMu.RLock()
	creator, exists := stackCreators[config.Name]
	stackMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("サポートされていないスタック: %s", config.Name)
	}

	return creator(config)
}

// SupportedStacks は登録済みのスタック名を返す
func SupportedStacks() []string {
	stackMu.RLock()
	defer stackMu.RUnlock()

	names := make([]string, 0, len(stackCreators))
	for name := range stackCreators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
