package api

import (
	"sort"
	"sync"
)

// ExtRequiresDevice はデバイスを操作するオペレーションに付ける拡張
const ExtRequiresDevice = "x-requires-device"

// Operation はAPI定義上の1オペレーション
type Operation struct {
	ID             string
	Method         string
	Path           string
	RequiresDevice bool
}

var (
	operationsOnce sync.Once
	operations     map[string]Operation
)

func loadOperations() {
	operations = make(map[string]Operation)

	doc, err := GetSwagger()
	if err != nil {
		return
	}

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			requires, _ := op.Extensions[ExtRequiresDevice].(bool)
			operations[op.OperationID] = Operation{
				ID:             op.OperationID,
				Method:         method,
				Path:           path,
				RequiresDevice: requires,
			}
		}
	}
}

// Operations はAPI定義の全オペレーションをID順に返す
func Operations() []Operation {
	operationsOnce.Do(loadOperations)

	ops := make([]Operation, 0, len(operations))
	for _, op := range operations {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].ID < ops[j].ID
	})
	return ops
}

// RequiresDevice はオペレーションがデバイスを必要とするかどうかを返す
// 未知のIDは false
func RequiresDevice(operationID string) bool {
	operationsOnce.Do(loadOperations)
	return operations[operationID].RequiresDevice
}
