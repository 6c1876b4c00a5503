/*
包 server 管理 HTTP 监听的生命周期：非阻塞启动、异步错误上报与
带超时的优雅关闭。

evalflow serve 为 API 与 Prometheus 指标各创建一个 Manager，
由命令层监听 SIGINT/SIGTERM 后依次调用 Shutdown。
*/
package server
