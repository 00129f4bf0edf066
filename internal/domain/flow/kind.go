package flow

import (
	"fmt"
	"strings"
)

// Kind 节点类型（封闭枚举）
type Kind string

const (
	KindStart      Kind = "start"
	KindMessage    Kind = "message"
	KindUserInput  Kind = "user_input"
	KindCondition  Kind = "condition"
	KindCode       Kind = "code"
	KindAIResponse Kind = "ai_response"
)

// 条件节点的分支名
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// KindSpec 描述某一节点类型携带的字段与分支规则
type KindSpec struct {
	Kind        Kind     `json:"kind"`
	DisplayName string   `json:"display_name"`
	Branches    []string `json:"branches,omitempty"` // 声明的命名输出（sourceHandle）
	Fields      []string `json:"fields,omitempty"`   // data 中约定的字段
	Terminal    bool     `json:"terminal,omitempty"` // 交互暂停点
}

// kindSpecs 新增节点类型必须在此显式登记
var kindSpecs = []KindSpec{
	{Kind: KindStart, DisplayName: "Start"},
	{Kind: KindMessage, DisplayName: "Message", Fields: []string{"text"}},
	{Kind: KindUserInput, DisplayName: "User Input", Fields: []string{"prompt", "variable"}, Terminal: true},
	{Kind: KindCondition, DisplayName: "Condition", Branches: []string{BranchTrue, BranchFalse}, Fields: []string{"expression"}},
	{Kind: KindCode, DisplayName: "Code", Fields: []string{"function", "inputs", "timeout_ms"}},
	{Kind: KindAIResponse, DisplayName: "AI Response", Fields: []string{"prompt"}},
}

// 历史编辑器版本使用过的别名
var kindAliases = map[string]Kind{
	"trigger":     KindStart,
	"response":    KindMessage,
	"userinput":   KindUserInput,
	"user-input":  KindUserInput,
	"question":    KindUserInput,
	"function":    KindCode,
	"ai":          KindAIResponse,
	"ai-response": KindAIResponse,
}

var kindIndex = func() map[Kind]KindSpec {
	m := make(map[Kind]KindSpec, len(kindSpecs))
	for _, s := range kindSpecs {
		m[s.Kind] = s
	}
	return m
}()

// Kinds 返回所有已登记的节点类型规格（按登记顺序）
func Kinds() []KindSpec {
	out := make([]KindSpec, len(kindSpecs))
	copy(out, kindSpecs)
	return out
}

// Spec 返回节点类型规格
func (k Kind) Spec() (KindSpec, bool) {
	s, ok := kindIndex[k]
	return s, ok
}

// Valid 判断是否为已登记类型
func (k Kind) Valid() bool {
	_, ok := kindIndex[k]
	return ok
}

// Branches 返回声明的分支名
func (k Kind) Branches() []string {
	return kindIndex[k].Branches
}

// HasBranch 判断 handle 是否为声明的分支
func (k Kind) HasBranch(handle string) bool {
	for _, b := range kindIndex[k].Branches {
		if b == handle {
			return true
		}
	}
	return false
}

// ParseKind 解析节点类型，兼容历史别名
func ParseKind(s string) (Kind, error) {
	raw := strings.TrimSpace(s)
	if k := Kind(raw); k.Valid() {
		return k, nil
	}
	if k, ok := kindAliases[strings.ToLower(raw)]; ok {
		return k, nil
	}
	return "", &Error{Code: CodeInvalidKind, Op: "parse_kind", ID: raw, Err: ErrInvalidKind}
}

func (k Kind) String() string {
	return string(k)
}

// MustParseKind 用于测试和静态数据
func MustParseKind(s string) Kind {
	k, err := ParseKind(s)
	if err != nil {
		panic(fmt.Sprintf("flow: %v", err))
	}
	return k
}
