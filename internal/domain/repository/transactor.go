// Package repository 定义数据访问层接口
package repository

import "context"

// Transactor 事务边界接口
type Transactor interface {
	// WithTransaction 在事务中执行 fn；fn 返回错误时回滚
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
