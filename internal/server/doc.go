/*
包 server 管理 metrics 与健康检查端点的 HTTP 服务器生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听，Wait 在 ctx 结束
（通常是 SIGINT/SIGTERM）或服务异常退出后执行优雅关闭，
Addr 返回实际监听地址，便于 ":0" 随机端口。
*/
package server
