package model

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// 实例默认值
const (
	DefaultStatus             = "UP"
	DefaultDataCenterInfoName = "MyOwn"
	DefaultHealthEndpointPath = "/actuator/health"
	DefaultInfoEndpointPath   = "/actuator/info"
)

// Instance 描述一个需要保持注册的服务实例
type Instance struct {
	ID                 string `json:"id" gorm:"primaryKey;size:64" validate:"required"`
	ServiceName        string `json:"serviceName" gorm:"size:128;index:idx_instance_endpoint" validate:"required"`
	HostName           string `json:"hostName" gorm:"size:255;index:idx_instance_endpoint" validate:"required,hostname_rfc1123|ip"`
	IPAddr             string `json:"ipAddr,omitempty" gorm:"size:64" validate:"omitempty,ip"`
	HTTPPort           int    `json:"httpPort" gorm:"index:idx_instance_endpoint" validate:"min=0,max=65535"`
	SecurePort         int    `json:"securePort" validate:"min=0,max=65535"`
	SSLPreferred       bool   `json:"sslPreferred"`
	Status             string `json:"status,omitempty" gorm:"size:32"`
	DataCenterInfoName string `json:"dataCenterInfoName,omitempty" gorm:"size:64"`
	HealthEndpointPath string `json:"healthEndpointPath,omitempty" gorm:"size:255" validate:"omitempty,startswith=/"`
	InfoEndpointPath   string `json:"infoEndpointPath,omitempty" gorm:"size:255" validate:"omitempty,startswith=/"`
}

// TableName 指定数据库表名
func (Instance) TableName() string {
	return "instances"
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instanceValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate 校验实例字段是否完整有效
func (i *Instance) Validate() error {
	if i == nil {
		return fmt.Errorf("实例不能为空")
	}
	if err := instanceValidator().Struct(i); err != nil {
		return fmt.Errorf("实例校验失败: %w", err)
	}
	if i.ActivePort() <= 0 {
		if i.SSLPreferred {
			return fmt.Errorf("实例校验失败: 启用SSL时securePort必须大于0")
		}
		return fmt.Errorf("实例校验失败: httpPort必须大于0")
	}
	return nil
}

// AppName 返回注册中心使用的应用名（大写）
func (i *Instance) AppName() string {
	name := strings.TrimSpace(i.ServiceName)
	if name == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(name)
}

// VIPAddress 返回虚拟地址（小写应用名）
func (i *Instance) VIPAddress() string {
	return strings.ToLower(i.AppName())
}

// ActivePort 返回对外公布的端口
func (i *Instance) ActivePort() int {
	if i.SSLPreferred {
		return i.SecurePort
	}
	return i.HTTPPort
}

// Scheme 返回对外公布的协议
func (i *Instance) Scheme() string {
	if i.SSLPreferred {
		return "https"
	}
	return "http"
}

// InstanceID 返回注册中心中的实例ID，格式为 host:APP:port
func (i *Instance) InstanceID() string {
	return fmt.Sprintf("%s:%s:%d", i.HostName, i.AppName(), i.ActivePort())
}

// StatusOrDefault 返回实例状态，未设置时为UP
func (i *Instance) StatusOrDefault() string {
	if i.Status == "" {
		return DefaultStatus
	}
	return i.Status
}

// DataCenterOrDefault 返回数据中心名称，未设置时为MyOwn
func (i *Instance) DataCenterOrDefault() string {
	if i.DataCenterInfoName == "" {
		return DefaultDataCenterInfoName
	}
	return i.DataCenterInfoName
}

// HealthPath 返回健康检查路径
func (i *Instance) HealthPath() string {
	if i.HealthEndpointPath == "" {
		return DefaultHealthEndpointPath
	}
	return i.HealthEndpointPath
}

// InfoPath 返回状态页路径
func (i *Instance) InfoPath() string {
	if i.InfoEndpointPath == "" {
		return DefaultInfoEndpointPath
	}
	return i.InfoEndpointPath
}

// SameEndpoint 判断两个实例是否指向同一个服务端点（服务名、主机名忽略大小写）
func (i *Instance) SameEndpoint(serviceName, hostName string, httpPort int) bool {
	return strings.EqualFold(i.ServiceName, serviceName) &&
		strings.EqualFold(i.HostName, hostName) &&
		i.HTTPPort == httpPort
}

// Clone 返回实例的副本
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
