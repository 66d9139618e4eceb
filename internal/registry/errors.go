package registry

import (
	"errors"
	"fmt"
)

// ErrInstanceNotFound 注册中心已不认识该实例（例如心跳超时后被剔除）
var ErrInstanceNotFound = errors.New("注册中心中不存在该实例")

// ErrNoServers 没有配置注册中心地址
var ErrNoServers = errors.New("没有可用的注册中心地址")

// StatusError 注册中心返回了非预期的状态码
type StatusError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

// Error 实现error接口
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s 失败 (状态码: %d)", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s 失败 (状态码: %d): %s", e.Op, e.URL, e.StatusCode, e.Body)
}

// Is 404状态视为ErrInstanceNotFound
func (e *StatusError) Is(target error) bool {
	return target == ErrInstanceNotFound && e.StatusCode == 404
}

// IsNotFound 判断错误是否表示实例已不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}
